package model

import "fmt"

// ActionSpec is the wire shape of one configured action, exactly as it is
// embedded in a stage definition and snapshotted into audit and failure
// rows. The config map is type-specific; string values may contain
// "@field" references resolved against a DataContext at dispatch time.
type ActionSpec struct {
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config" yaml:"config"`
}

// ActionResult is the self-describing outcome of one executed action.
// Shape varies per action type (e.g. parsed response body plus status code
// for api_call, created resource id for create_invoice).
type ActionResult map[string]any

// DataContext is the flattened key/value snapshot of the triggering entity
// (and any merged form data) that action config field references resolve
// against. Built fresh per dispatch; archived only inside audit and
// failure payloads, never persisted on its own.
type DataContext map[string]any

// String returns the string form of the named field, or ("", false) when
// the field is absent.
func (d DataContext) String(field string) (string, bool) {
	v, ok := d[field]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Merge returns a new DataContext with the entries of other laid over the
// receiver. The receiver is not modified.
func (d DataContext) Merge(other map[string]any) DataContext {
	merged := make(DataContext, len(d)+len(other))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// BuildDataContext flattens the entity's data (nested maps joined with
// dots) and overlays the supplied form data.
func BuildDataContext(entity Entity, formData map[string]any) DataContext {
	dctx := make(DataContext)
	flattenInto(dctx, "", entity.Data)
	flattenInto(dctx, "", formData)
	dctx["entity_uuid"] = entity.UUID
	dctx["entity_kind"] = entity.Kind
	dctx["current_stage"] = entity.CurrentStage
	return dctx
}

func flattenInto(dst DataContext, prefix string, src map[string]any) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(dst, key, nested)
			continue
		}
		dst[key] = v
	}
}
