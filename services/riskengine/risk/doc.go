// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package risk derives a single categorical security posture from the
// normalized contributions of every configured source.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                    Risk Aggregation                              │
//	├─────────────────────────────────────────────────────────────────┤
//	│                                                                  │
//	│  NormalizedContribution[] (fresh + stale)                        │
//	│         │                                                        │
//	│         ├──────────────┬──────────────┐                          │
//	│         ▼              ▼              ▼                          │
//	│    max(risk)     Σ weight×count  max(confidence)                 │
//	│    fresh only    fresh only      explicit only                   │
//	│         │              │              │                          │
//	│         └──────────────┼──────────────┘                          │
//	│                        ▼                                         │
//	│          CRITICAL → HIGH → MEDIUM → LOW                          │
//	│          (ordered rules, first match wins)                       │
//	│                                                                  │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// Everything in this package is a pure function over values and is safe
// for concurrent use.
//
// # Algorithm Versioning
//
// When making changes that affect computed levels, increment the
// AlgorithmVersion constant. The version is published with every
// assessment.
package risk
