package domain

import (
	"encoding/json"
	"fmt"
)

type RefKind string

const (
	RefUnresolved RefKind = "unresolved"
	RefKnown      RefKind = "known"
	RefInline     RefKind = "inline"
)

// AddressRef points at a passenger address: a known address id, an ad-hoc
// inline address, or nothing yet. Manual marks refs the operator chose; those
// survive a direction toggle.
type AddressRef struct {
	Kind   RefKind  `json:"kind"`
	ID     string   `json:"id,omitempty"`
	Inline *Address `json:"inline,omitempty"`
	Manual bool     `json:"manual,omitempty"`
}

func Known(id string) AddressRef {
	return AddressRef{Kind: RefKnown, ID: id}
}

func Inline(a Address) AddressRef {
	a.Kind = AddressCustom
	return AddressRef{Kind: RefInline, Inline: &a}
}

func Unresolved() AddressRef {
	return AddressRef{Kind: RefUnresolved}
}

func (r AddressRef) Resolved() bool {
	switch r.Kind {
	case RefKnown:
		return r.ID != ""
	case RefInline:
		return r.Inline != nil
	case RefUnresolved:
		return false
	}
	return false
}

// Equal compares refs including provenance.
func (r AddressRef) Equal(o AddressRef) bool {
	if r.Kind != o.Kind || r.Manual != o.Manual {
		return false
	}
	switch r.Kind {
	case RefKnown:
		return r.ID == o.ID
	case RefInline:
		if r.Inline == nil || o.Inline == nil {
			return r.Inline == o.Inline
		}
		return *r.Inline == *o.Inline
	case RefUnresolved:
		return true
	}
	return false
}

func (r AddressRef) String() string {
	switch r.Kind {
	case RefKnown:
		return "known:" + r.ID
	case RefInline:
		if r.Inline == nil {
			return "inline:?"
		}
		return "inline:" + r.Inline.Display()
	case RefUnresolved:
		return "unresolved"
	}
	return string(r.Kind)
}

func (r *AddressRef) UnmarshalJSON(b []byte) error {
	type plain AddressRef
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	switch p.Kind {
	case "":
		p.Kind = RefUnresolved
	case RefUnresolved, RefKnown, RefInline:
	default:
		return fmt.Errorf("unknown address ref kind %q", p.Kind)
	}
	*r = AddressRef(p)
	return nil
}
