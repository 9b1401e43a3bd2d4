package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an item or owner identifier. The feed serves ids as either JSON
// numbers or strings depending on endpoint version; we keep them opaque.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

type Photo struct {
	URL string `json:"url"`
}

// Item is one feed entry, read-only once fetched.
type Item struct {
	ID           ID      `json:"id"`
	OwnerID      ID      `json:"owner_id"`
	OwnerName    string  `json:"owner_name"`
	SpeciesGuess string  `json:"species_guess,omitempty"`
	TaxonLabel   string  `json:"taxon_label,omitempty"`
	Photos       []Photo `json:"photos"`
}

// HasPhoto reports whether the item is eligible for publication.
// Items without a usable first photo are never posted.
func (it Item) HasPhoto() bool {
	return len(it.Photos) > 0 && it.Photos[0].URL != ""
}

// DisplayLabel returns the best available species label.
func (it Item) DisplayLabel() string {
	if it.TaxonLabel != "" {
		return it.TaxonLabel
	}
	if it.SpeciesGuess != "" {
		return it.SpeciesGuess
	}
	return "unknown"
}
