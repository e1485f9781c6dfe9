// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

package assemble

import (
	"github.com/chronista-io/chronista/internal/models"
	"github.com/chronista-io/chronista/internal/provider"
)

// Extractor applies a provider's correlation patterns to complete entries,
// filling session/user/device/item identifiers the line parser left empty.
//
// Pattern application follows provider declaration order and the first match
// wins per field; a field already set by the parser is never overwritten.
// Enrichment happens on a copy, so the assembler's emitted value stays
// untouched.
type Extractor struct {
	patterns []provider.CorrelationPattern
}

// NewExtractor builds an extractor from the provider's declared patterns.
func NewExtractor(prov provider.Provider) *Extractor {
	return &Extractor{patterns: prov.CorrelationPatterns()}
}

// Enrich returns a copy of e with correlation identifiers populated from the
// message text (falling back to the raw line). With no patterns declared, e
// is returned unchanged.
func (x *Extractor) Enrich(e *models.ParsedLogEntry) *models.ParsedLogEntry {
	if len(x.patterns) == 0 {
		return e
	}

	out := e.Clone()
	for _, pat := range x.patterns {
		field := fieldRef(out, pat.Field)
		if field == nil || *field != "" {
			continue
		}
		if m := pat.Pattern.FindStringSubmatch(out.Message); len(m) > 1 {
			*field = m[1]
			continue
		}
		if m := pat.Pattern.FindStringSubmatch(out.Raw); len(m) > 1 {
			*field = m[1]
		}
	}
	return out
}

// fieldRef maps a correlation field name to the entry field it populates.
func fieldRef(e *models.ParsedLogEntry, f provider.CorrelationField) *string {
	switch f {
	case provider.FieldSessionID:
		return &e.SessionID
	case provider.FieldUserID:
		return &e.UserID
	case provider.FieldDeviceID:
		return &e.DeviceID
	case provider.FieldItemID:
		return &e.ItemID
	case provider.FieldPlaySessionID:
		return &e.PlaySessionID
	default:
		return nil
	}
}
