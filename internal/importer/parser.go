// Spotify Analytics - Listening History Acquisition & Ingestion Engine
// Copyright 2026 Mohamed Y. (mohamed-myi)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mohamed-myi/Spotify-Analytics-App-sub000

package importer

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/mohamed-myi/Spotify-Analytics-App-sub000/internal/logging"
)

// ParseRecords parses an export file into normalized records. The
// happy path streams one record at a time; if streaming fails partway
// through a malformed file, a bounded whole-file fallback reparse is
// attempted, rejected outright above maxFallbackBytes.
func ParseRecords(data []byte, format Format, maxFallbackBytes int64) ([]RawRecord, error) {
	records, err := streamRecords(data, format)
	if err == nil {
		return records, nil
	}

	if int64(len(data)) > maxFallbackBytes {
		return nil, fmt.Errorf("streaming parse failed and file of %d bytes exceeds the %d byte fallback cap: %w",
			len(data), maxFallbackBytes, err)
	}

	logging.Warn().Err(err).Msg("Streaming parse failed, attempting whole-file fallback")
	return wholeFileRecords(data, format)
}

// streamRecords decodes array elements one at a time so only the
// active record is materialized beyond the raw buffer. Records that
// fail to normalize are dropped individually.
func streamRecords(data []byte, format Format) ([]RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read array start: %w", err)
	}

	var records []RawRecord
	for dec.More() {
		record, err := decodeOne(dec, format)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records = append(records, *record)
		}
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("read array end: %w", err)
	}
	return records, nil
}

func decodeOne(dec *json.Decoder, format Format) (*RawRecord, error) {
	switch format {
	case FormatBasic:
		var raw basicRecord
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode basic record: %w", err)
		}
		record, err := raw.normalize()
		if err != nil {
			logging.Debug().Err(err).Msg("Dropping unparseable record")
			return nil, nil
		}
		return &record, nil
	case FormatExtended:
		var raw extendedRecord
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode extended record: %w", err)
		}
		record, err := raw.normalize()
		if err != nil {
			logging.Debug().Err(err).Msg("Dropping unparseable record")
			return nil, nil
		}
		return &record, nil
	default:
		return nil, fmt.Errorf("parse: unknown format %d", format)
	}
}

// wholeFileRecords unmarshals the entire array at once. Last resort
// for files the streaming decoder chokes on.
func wholeFileRecords(data []byte, format Format) ([]RawRecord, error) {
	var records []RawRecord

	switch format {
	case FormatBasic:
		var raws []basicRecord
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("whole-file parse: %w", err)
		}
		for _, raw := range raws {
			if record, err := raw.normalize(); err == nil {
				records = append(records, record)
			}
		}
	case FormatExtended:
		var raws []extendedRecord
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("whole-file parse: %w", err)
		}
		for _, raw := range raws {
			if record, err := raw.normalize(); err == nil {
				records = append(records, record)
			}
		}
	default:
		return nil, fmt.Errorf("whole-file parse: unknown format %d", format)
	}

	return records, nil
}
