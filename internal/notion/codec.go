package notion

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/agentstation/mirrorsync/pkg/records"
)

type richText struct {
	Type      string    `json:"type,omitempty"`
	PlainText string    `json:"plain_text,omitempty"`
	Text      *textBody `json:"text,omitempty"`
}

type textBody struct {
	Content string `json:"content"`
}

type option struct {
	Name string `json:"name"`
}

type reference struct {
	ID string `json:"id"`
}

type computed struct {
	Type   string       `json:"type"`
	Number *json.Number `json:"number"`
	String *string      `json:"string"`
}

type uniqueID struct {
	Prefix *string      `json:"prefix"`
	Number *json.Number `json:"number"`
}

type dateValue struct {
	Start string `json:"start"`
}

// propertyValue is a page property as returned by the API.
type propertyValue struct {
	Type           string       `json:"type"`
	Title          []richText   `json:"title"`
	RichText       []richText   `json:"rich_text"`
	Select         *option      `json:"select"`
	Number         *json.Number `json:"number"`
	Relation       []reference  `json:"relation"`
	Formula        *computed    `json:"formula"`
	Rollup         *computed    `json:"rollup"`
	CreatedTime    string       `json:"created_time"`
	LastEditedTime string       `json:"last_edited_time"`
	CreatedBy      *reference   `json:"created_by"`
	LastEditedBy   *reference   `json:"last_edited_by"`
	UniqueID       *uniqueID    `json:"unique_id"`
	Date           *dateValue   `json:"date"`
	URL            *string      `json:"url"`
	Checkbox       *bool        `json:"checkbox"`
}

type page struct {
	ID         string                   `json:"id"`
	Properties map[string]propertyValue `json:"properties"`
}

func plainText(parts []richText) string {
	var b strings.Builder
	for _, p := range parts {
		switch {
		case p.PlainText != "":
			b.WriteString(p.PlainText)
		case p.Text != nil:
			b.WriteString(p.Text.Content)
		}
	}
	return b.String()
}

func parseNumber(n *json.Number) decimal.NullDecimal {
	if n == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// decodeField converts an API property value into a Field. Kinds the engine
// has no value model for decode with an empty value.
func decodeField(name string, v propertyValue) records.Field {
	f := records.Field{Name: name, Kind: records.Kind(v.Type)}
	switch f.Kind {
	case records.KindTitle:
		f.Text = plainText(v.Title)
	case records.KindText:
		f.Text = plainText(v.RichText)
	case records.KindSelect:
		if v.Select != nil {
			f.Choice = v.Select.Name
		}
	case records.KindNumber:
		f.Number = parseNumber(v.Number)
	case records.KindRelation:
		for _, r := range v.Relation {
			if r.ID != "" {
				f.Relation = append(f.Relation, r.ID)
			}
		}
	case records.KindFormula, records.KindRollup:
		c := v.Formula
		if f.Kind == records.KindRollup {
			c = v.Rollup
		}
		if c != nil {
			f.Number = parseNumber(c.Number)
			if c.String != nil {
				f.Text = *c.String
			}
		}
	case records.KindCreatedTime:
		f.Text = v.CreatedTime
	case records.KindLastEditedTime:
		f.Text = v.LastEditedTime
	case records.KindCreatedBy:
		if v.CreatedBy != nil {
			f.Text = v.CreatedBy.ID
		}
	case records.KindLastEditedBy:
		if v.LastEditedBy != nil {
			f.Text = v.LastEditedBy.ID
		}
	case records.KindUniqueID:
		if v.UniqueID != nil {
			f.Number = parseNumber(v.UniqueID.Number)
			if v.UniqueID.Prefix != nil {
				f.Text = *v.UniqueID.Prefix
			}
		}
	case records.KindDate:
		if v.Date != nil {
			f.Text = v.Date.Start
		}
	case records.KindURL:
		if v.URL != nil {
			f.Text = *v.URL
		}
	case records.KindCheckbox:
		if v.Checkbox != nil && *v.Checkbox {
			f.Text = "true"
		}
	}
	return f
}

func decodePage(p page) records.Record {
	fields := make(records.Fields, len(p.Properties))
	for name, v := range p.Properties {
		fields[name] = decodeField(name, v)
	}
	return records.Record{ID: p.ID, Fields: fields}
}

func textValue(s string) []richText {
	if s == "" {
		return []richText{}
	}
	return []richText{{Type: "text", Text: &textBody{Content: s}}}
}

// encodeField converts a Field into the API's property value payload.
// Only writable value kinds are encodable.
func encodeField(f records.Field) (any, bool) {
	switch f.Kind {
	case records.KindTitle:
		return map[string]any{"title": textValue(f.Text)}, true
	case records.KindText:
		return map[string]any{"rich_text": textValue(f.Text)}, true
	case records.KindSelect:
		if f.Choice == "" {
			return map[string]any{"select": nil}, true
		}
		return map[string]any{"select": option{Name: f.Choice}}, true
	case records.KindNumber:
		if !f.Number.Valid {
			return map[string]any{"number": nil}, true
		}
		return map[string]any{"number": json.RawMessage(f.Number.Decimal.String())}, true
	case records.KindRelation:
		refs := make([]reference, 0, len(f.Relation))
		for _, id := range f.Relation {
			refs = append(refs, reference{ID: id})
		}
		return map[string]any{"relation": refs}, true
	case records.KindURL:
		return map[string]any{"url": f.Text}, true
	}
	return nil, false
}

func encodeFields(fields records.Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for name, f := range fields {
		if v, ok := encodeField(f); ok {
			out[name] = v
		}
	}
	return out
}

// encodeFilter builds a database query filter for an exact match.
func encodeFilter(f *records.Filter) map[string]any {
	if f == nil {
		return nil
	}
	kind := string(f.Kind)
	var value any = f.Value
	switch f.Kind {
	case records.KindNumber:
		value = json.RawMessage(f.Value)
	case records.KindRelation:
		return map[string]any{"property": f.Property, kind: map[string]any{"contains": f.Value}}
	}
	return map[string]any{"property": f.Property, kind: map[string]any{"equals": value}}
}

// database is a database object as returned by the API.
type database struct {
	ID         string                    `json:"id"`
	Title      []richText                `json:"title"`
	Properties map[string]map[string]any `json:"properties"`
}

func decodeDatabase(db database) *records.Table {
	schema := make(records.Schema, len(db.Properties))
	for name, raw := range db.Properties {
		kind, _ := raw["type"].(string)
		if n, ok := raw["name"].(string); ok && n != "" {
			name = n
		}
		p := records.Property{Name: name, Kind: records.Kind(kind)}
		if cfg, ok := raw[kind].(map[string]any); ok {
			p.Config = cfg
		}
		schema[name] = p
	}
	return &records.Table{ID: db.ID, Title: plainText(db.Title), Schema: schema}
}

func encodeSchema(schema records.Schema) map[string]any {
	out := make(map[string]any, len(schema))
	for name, p := range schema {
		cfg := p.Config
		if cfg == nil {
			cfg = map[string]any{}
		}
		out[name] = map[string]any{string(p.Kind): cfg}
	}
	return out
}

// decodeBlock converts a block object. The type-specific body lives under
// a key named after the type.
func decodeBlock(raw map[string]any) records.Node {
	var n records.Node
	n.ID, _ = raw["id"].(string)
	typ, _ := raw["type"].(string)
	n.Type = records.NodeType(typ)
	n.HasChildren, _ = raw["has_children"].(bool)
	if body, ok := raw[typ].(map[string]any); ok {
		n.Payload = body
		if title, ok := body["title"].(string); ok {
			n.Title = title
		}
	}
	return n
}

func encodeBlock(n records.Node) map[string]any {
	body := n.Payload
	if body == nil {
		body = map[string]any{}
	}
	out := map[string]any{"object": "block", "type": string(n.Type)}
	out[string(n.Type)] = body
	return out
}
