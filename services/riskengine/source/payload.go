// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/riskboard/services/riskengine/signal"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// payloadValidate checks upstream payloads at the adapter boundary.
var payloadValidate = validator.New()

// decoded is what a payload decoder extracts from one response body.
type decoded struct {
	records []signal.RawSignalRecord

	// broken lists components (agents, models) that reported a failing
	// status inside an otherwise valid payload.
	broken []string
}

type decodeFunc func(src signal.Source, body []byte) (decoded, error)

// decoderFor returns the decoder for a source kind.
func decoderFor(kind signal.SourceKind) (decodeFunc, error) {
	switch kind {
	case signal.KindForecast:
		return decodeForecast, nil
	case signal.KindAgentHealth:
		return decodeAgents, nil
	case signal.KindAudit:
		return decodeAudit, nil
	case signal.KindModelHealth:
		return decodeModels, nil
	case signal.KindThreatPrediction:
		return decodeThreats, nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", kind)
	}
}

// decodeItems unmarshals and validates each raw item independently. An
// item that fails either step becomes a malformed record and the rest of
// the payload is kept.
func decodeItems[T any](src signal.Source, items []json.RawMessage, convert func(T) signal.RawSignalRecord) []signal.RawSignalRecord {
	out := make([]signal.RawSignalRecord, 0, len(items))
	for _, raw := range items {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			out = append(out, signal.RawSignalRecord{SourceID: src.ID, Malformed: true})
			continue
		}
		if err := payloadValidate.Struct(item); err != nil {
			out = append(out, signal.RawSignalRecord{SourceID: src.ID, Malformed: true})
			continue
		}
		rec := convert(item)
		rec.SourceID = src.ID
		out = append(out, rec)
	}
	return out
}

// decodeEnvelope unmarshals body into env and validates its required
// top-level key.
func decodeEnvelope(body []byte, env any) error {
	if err := json.Unmarshal(body, env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := payloadValidate.Struct(env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// ====== FORECAST ======

type forecastItem struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Severity    flexSeverity `json:"severity"`
	Confidence  *flexFloat   `json:"confidence"`
	Probability *flexFloat   `json:"probability"`
	Timestamp   flexTime     `json:"timestamp"`
}

func (f forecastItem) record(name string) signal.RawSignalRecord {
	conf := f.Confidence.ptr()
	if conf == nil {
		conf = f.Probability.ptr()
	}
	desc := strings.TrimSpace(f.Description)
	if desc == "" {
		desc = name
	}
	if f.Name != "" {
		name = f.Name
	}
	return signal.RawSignalRecord{
		Name:        name,
		Description: desc,
		Confidence:  conf,
		CVSS:        f.Severity.CVSS,
		Severity:    f.Severity.Label,
		Timestamp:   f.Timestamp.Time,
	}
}

type forecastEnvelope struct {
	PredictedThreats json.RawMessage `json:"predicted_threats" validate:"required"`
}

// decodeForecast accepts three shapes:
//
//	{"predicted_threats": {"ransomware": {"confidence": 0.8, ...}, "phishing": 0.4}}
//	{"predicted_threats": [{"severity": "high", "confidence": 0.7, "description": "..."}]}
//	[{"severity": "high", "confidence": 0.7, "description": "..."}]
func decodeForecast(src signal.Source, body []byte) (decoded, error) {
	trimmed := bytes.TrimSpace(body)
	var payload json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		payload = trimmed
	} else {
		var env forecastEnvelope
		if err := decodeEnvelope(trimmed, &env); err != nil {
			return decoded{}, err
		}
		payload = bytes.TrimSpace(env.PredictedThreats)
	}

	if len(payload) > 0 && payload[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return decoded{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		return decoded{records: decodeItems(src, items, func(f forecastItem) signal.RawSignalRecord {
			return f.record("")
		})}, nil
	}

	var byName map[string]json.RawMessage
	if err := json.Unmarshal(payload, &byName); err != nil {
		return decoded{}, fmt.Errorf("%w: predicted_threats must be an object or array", ErrMalformedPayload)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]signal.RawSignalRecord, 0, len(names))
	for _, name := range names {
		raw := bytes.TrimSpace(byName[name])
		var rec signal.RawSignalRecord
		switch {
		case len(raw) > 0 && raw[0] == '{':
			var item forecastItem
			if err := json.Unmarshal(raw, &item); err != nil {
				rec = signal.RawSignalRecord{Malformed: true}
				break
			}
			rec = item.record(name)
		default:
			var v flexFloat
			if err := json.Unmarshal(raw, &v); err != nil {
				rec = signal.RawSignalRecord{Malformed: true}
				break
			}
			rec = signal.RawSignalRecord{Name: name, Description: name, Confidence: v.ptr()}
		}
		rec.SourceID = src.ID
		out = append(out, rec)
	}
	return decoded{records: out}, nil
}

// ====== AGENT HEALTH ======

type agentItem struct {
	Name        string     `json:"name"`
	Status      string     `json:"status" validate:"required"`
	Confidence  *flexFloat `json:"confidence"`
	Description string     `json:"description"`
	LastSeen    flexTime   `json:"last_seen"`
}

type agentEnvelope struct {
	Agents []json.RawMessage `json:"agents" validate:"required"`
}

func decodeAgents(src signal.Source, body []byte) (decoded, error) {
	var env agentEnvelope
	if err := decodeEnvelope(body, &env); err != nil {
		return decoded{}, err
	}
	var d decoded
	d.records = decodeItems(src, env.Agents, func(a agentItem) signal.RawSignalRecord {
		if signal.IsDegradedComponent(a.Status) {
			d.broken = append(d.broken, componentName(a.Name, "agent"))
		}
		return signal.RawSignalRecord{
			Name:        a.Name,
			Description: a.Description,
			Confidence:  a.Confidence.ptr(),
			Status:      a.Status,
			Timestamp:   a.LastSeen.Time,
		}
	})
	return d, nil
}

// ====== AUDIT ======

type auditItem struct {
	Action    string       `json:"action" validate:"required"`
	User      string       `json:"user"`
	Severity  flexSeverity `json:"severity"`
	Count     *int         `json:"count" validate:"omitempty,gte=0"`
	Timestamp flexTime     `json:"timestamp"`
}

type auditEnvelope struct {
	Logs []json.RawMessage `json:"logs" validate:"required"`
}

func decodeAudit(src signal.Source, body []byte) (decoded, error) {
	var env auditEnvelope
	if err := decodeEnvelope(body, &env); err != nil {
		return decoded{}, err
	}
	return decoded{records: decodeItems(src, env.Logs, func(l auditItem) signal.RawSignalRecord {
		count := 1
		if l.Count != nil {
			count = *l.Count
		}
		return signal.RawSignalRecord{
			Name:        l.User,
			Description: l.Action,
			Severity:    l.Severity.Label,
			CVSS:        l.Severity.CVSS,
			Count:       signal.Int(count),
			Timestamp:   l.Timestamp.Time,
		}
	})}, nil
}

// ====== MODEL HEALTH ======

type modelItem struct {
	Name     string     `json:"name"`
	Status   string     `json:"status" validate:"required"`
	Accuracy *flexFloat `json:"accuracy"`
}

type modelEnvelope struct {
	Models []json.RawMessage `json:"models" validate:"required"`
}

// decodeModels produces health-only records. Accuracy is informational
// and does not feed the risk computation.
func decodeModels(src signal.Source, body []byte) (decoded, error) {
	var env modelEnvelope
	if err := decodeEnvelope(body, &env); err != nil {
		return decoded{}, err
	}
	var d decoded
	d.records = decodeItems(src, env.Models, func(m modelItem) signal.RawSignalRecord {
		if signal.IsDegradedComponent(m.Status) {
			d.broken = append(d.broken, componentName(m.Name, "model"))
		}
		name := m.Name
		if acc := m.Accuracy.ptr(); acc != nil {
			name = fmt.Sprintf("%s (accuracy %.2f)", componentName(m.Name, "model"), *acc)
		}
		return signal.RawSignalRecord{Name: name, Status: m.Status}
	})
	return d, nil
}

// ====== THREAT PREDICTION ======

type threatItem struct {
	Description string       `json:"description"`
	Confidence  *flexFloat   `json:"confidence" validate:"required_without_all=RiskScore CVSS Severity"`
	RiskScore   *flexFloat   `json:"risk_score"`
	CVSS        *flexFloat   `json:"cvss"`
	Severity    flexSeverity `json:"severity"`
	Timestamp   flexTime     `json:"timestamp"`
}

type threatEnvelope struct {
	Threats []json.RawMessage `json:"threats" validate:"required"`
}

func decodeThreats(src signal.Source, body []byte) (decoded, error) {
	var env threatEnvelope
	if err := decodeEnvelope(body, &env); err != nil {
		return decoded{}, err
	}
	return decoded{records: decodeItems(src, env.Threats, func(t threatItem) signal.RawSignalRecord {
		cvss := t.CVSS.ptr()
		if cvss == nil {
			cvss = t.Severity.CVSS
		}
		return signal.RawSignalRecord{
			Description: t.Description,
			Confidence:  t.Confidence.ptr(),
			Score:       t.RiskScore.ptr(),
			CVSS:        cvss,
			Severity:    t.Severity.Label,
			Timestamp:   t.Timestamp.Time,
		}
	})}, nil
}

func componentName(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
