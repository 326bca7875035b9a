package realtime

import "fleetsync/internal/model"

// Field sets per subscription level. Each level is a strict superset of
// the one below it; the sets are configuration, not computed from data.
var levelFields = map[model.Level]map[string]bool{
	model.LevelMinimal: {
		model.FieldStatus:          true,
		model.FieldStatusChangedAt: true,
	},
	model.LevelStandard: {
		model.FieldStatus:          true,
		model.FieldStatusChangedAt: true,
		model.FieldLot:             true,
		model.FieldProductionCount: true,
		model.FieldTactTime:        true,
		model.FieldLastSeenAt:      true,
	},
	model.LevelDetailed: {
		model.FieldStatus:          true,
		model.FieldStatusChangedAt: true,
		model.FieldLot:             true,
		model.FieldProductionCount: true,
		model.FieldTactTime:        true,
		model.FieldLastSeenAt:      true,
		model.FieldHostMetrics:     true,
	},
}

// AllowedFields returns the field set of one level.
func AllowedFields(level model.Level) map[string]bool {
	return levelFields[level]
}

// Subscription is one client's declared interest: a default level plus
// optional per-site overrides. Immutable once built; a subscription change
// installs a fresh value, so a publish already iterating an old one is
// never altered mid-batch.
type Subscription struct {
	Level      model.Level
	SiteLevels map[string]model.Level
}

// LevelFor returns the effective level for one site.
func (s *Subscription) LevelFor(site string) model.Level {
	if l, ok := s.SiteLevels[site]; ok {
		return l
	}
	return s.Level
}

// FilterFields returns the intersection of a canonical field map with the
// level's allowed set. Pure function of its inputs.
func FilterFields(fields map[string]any, level model.Level) map[string]any {
	allowed := levelFields[level]
	var out map[string]any
	for name, v := range fields {
		if !allowed[name] {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(fields))
		}
		out[name] = v
	}
	return out
}

// FilterDelta projects one delta onto a subscription level. The second
// return is false when the intersection is empty, in which case the caller
// must suppress sending entirely; clients never receive empty deltas.
func FilterDelta(d model.Delta, level model.Level) (model.Delta, bool) {
	fields := FilterFields(d.Fields, level)
	if len(fields) == 0 {
		return model.Delta{}, false
	}
	return model.Delta{
		Key:       d.Key,
		Site:      d.Site,
		DisplayID: d.DisplayID,
		Seq:       d.Seq,
		Fields:    fields,
	}, true
}

// FilterBatch projects a whole batch onto one subscription, applying the
// per-site level to each delta. False when nothing survives.
func FilterBatch(batch model.BatchDelta, sub *Subscription) (model.BatchDelta, bool) {
	var deltas []model.Delta
	for _, d := range batch.Deltas {
		if filtered, ok := FilterDelta(d, sub.LevelFor(d.Site)); ok {
			deltas = append(deltas, filtered)
		}
	}
	if len(deltas) == 0 {
		return model.BatchDelta{}, false
	}
	return model.BatchDelta{Seq: batch.Seq, At: batch.At, Deltas: deltas}, true
}
