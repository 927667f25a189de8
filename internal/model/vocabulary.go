package model

// RowKind tells which vocabulary a row type belongs to.
type RowKind int

const (
	RowUnknown RowKind = iota
	RowPromo
	RowChannel
)

// Vocabulary is the fixed, ordered union of promo-type and channel-type row
// types. Promo types come first.
type Vocabulary struct {
	promo   []string
	channel []string
	kinds   map[string]RowKind
}

// NewVocabulary builds a Vocabulary. Duplicates keep their first position.
func NewVocabulary(promoTypes, channelTypes []string) *Vocabulary {
	v := &Vocabulary{kinds: make(map[string]RowKind, len(promoTypes)+len(channelTypes))}
	for _, t := range promoTypes {
		if _, dup := v.kinds[t]; dup || t == "" {
			continue
		}
		v.kinds[t] = RowPromo
		v.promo = append(v.promo, t)
	}
	for _, t := range channelTypes {
		if _, dup := v.kinds[t]; dup || t == "" {
			continue
		}
		v.kinds[t] = RowChannel
		v.channel = append(v.channel, t)
	}
	return v
}

// RowTypes returns every row type in display order.
func (v *Vocabulary) RowTypes() []string {
	out := make([]string, 0, len(v.promo)+len(v.channel))
	out = append(out, v.promo...)
	return append(out, v.channel...)
}

func (v *Vocabulary) PromoTypes() []string   { return append([]string(nil), v.promo...) }
func (v *Vocabulary) ChannelTypes() []string { return append([]string(nil), v.channel...) }

// Contains reports whether rowType is configured.
func (v *Vocabulary) Contains(rowType string) bool {
	_, ok := v.kinds[rowType]
	return ok
}

// Kind classifies rowType.
func (v *Vocabulary) Kind(rowType string) RowKind {
	return v.kinds[rowType]
}
