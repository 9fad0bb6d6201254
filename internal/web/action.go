package web

import (
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheetdrop/internal/config"
	"github.com/JonMunkholm/sheetdrop/internal/core"
)

// Action hub wire types. The hub lists integrations, fetches their form,
// then posts the rendered dashboard plus the filled form to the execute URL.

// ActionList is the response to the list endpoint.
type ActionList struct {
	Label        string        `json:"label"`
	Integrations []Integration `json:"integrations"`
}

// Integration describes one action the hub can offer.
type Integration struct {
	Name                      string   `json:"name"`
	Label                     string   `json:"label"`
	IconDataURI               string   `json:"icon_data_uri"`
	FormURL                   string   `json:"form_url"`
	URL                       string   `json:"url"`
	SupportedActionTypes      []string `json:"supported_action_types"`
	SupportedDownloadSettings []string `json:"supported_download_settings"`
	SupportedFormats          []string `json:"supported_formats"`
	SupportedFormattings      []string `json:"supported_formattings"`
}

// FormField is one input of the action form.
type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// ExecuteRequest is the body of an execute call. Only the attachment and the
// form parameters are used; Data is logged for debugging.
type ExecuteRequest struct {
	Attachment *Attachment      `json:"attachment"`
	FormParams FormParams       `json:"form_params"`
	Data       *json.RawMessage `json:"data,omitempty"`
}

// Attachment carries the base64 zip of CSV exports.
type Attachment struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type,omitempty"`
}

// FormParams holds the filled form. Values arrive as strings but numbers are
// tolerated for port.
type FormParams map[string]any

// formFields is the order the form is rendered in.
var formFields = []string{"filename", "host", "username", "port"}

//go:embed icon.svg
var iconSVG []byte

// defaultIconDataURI is advertised when ACTION_ICON_DATA_URI is unset.
var defaultIconDataURI = "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(iconSVG)

func newActionList(cfg config.ActionConfig) ActionList {
	base := strings.TrimRight(cfg.PublicURL, "/")
	icon := cfg.IconDataURI
	if icon == "" {
		icon = defaultIconDataURI
	}
	return ActionList{
		Label: cfg.Label,
		Integrations: []Integration{{
			Name:                      cfg.Name,
			Label:                     cfg.Label,
			IconDataURI:               icon,
			FormURL:                   base + "/action_form",
			URL:                       base + "/action_execute",
			SupportedActionTypes:      []string{"dashboard"},
			SupportedDownloadSettings: []string{"url"},
			SupportedFormats:          []string{"csv_zip"},
			SupportedFormattings:      []string{"unformatted"},
		}},
	}
}

func newActionForm() []FormField {
	fields := make([]FormField, len(formFields))
	for i, name := range formFields {
		fields[i] = FormField{Name: name, Label: name, Type: "string", Required: true}
	}
	return fields
}

// value returns the named parameter as text.
func (p FormParams) value(name string) (string, bool) {
	v, ok := p[name]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	default:
		return fmt.Sprint(t), true
	}
}

// destination extracts the destination fields and reports the first missing
// one. Port may be absent here; parsing it is the pipeline's validate stage.
func (p FormParams) destination() (in core.DestinationInput, missing string) {
	if p == nil {
		return in, "form_params"
	}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"host", &in.Host},
		{"username", &in.Username},
		{"filename", &in.Filename},
	} {
		v, ok := p.value(f.name)
		if !ok {
			return in, f.name
		}
		*f.dst = v
	}
	in.Port, _ = p.value("port")
	return in, ""
}
