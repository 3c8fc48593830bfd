package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// StringList is a JSONB column holding a list of strings (player nicknames).
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(l)
}

// Scan unmarshals a JSONB column into the slice.
func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("StringList: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, l)
}

// Contains reports whether the list holds s exactly (case-sensitive).
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// ContainsFold reports whether the list holds s under case folding.
func (l StringList) ContainsFold(s string) bool {
	for _, v := range l {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// ResultRow is a single line of a scanned result table: a display name as it
// appeared on the screenshot plus the points scored. Races is the number of
// races the player actually drove; 0 means the full war.
type ResultRow struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Races int    `json:"races,omitempty"`
}

// ResultRowList is the JSONB column holding the rows of one result table.
type ResultRowList []ResultRow

func (r ResultRowList) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal([]ResultRow{})
	}
	return json.Marshal(r)
}

// Scan unmarshals a JSONB column into the slice.
func (r *ResultRowList) Scan(src interface{}) error {
	if src == nil {
		*r = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("ResultRowList: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, r)
}
