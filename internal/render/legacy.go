package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// DocumentKind identifies which on-disk settings shape was read.
type DocumentKind int

const (
	// KindCurrent is {mode, include_tags, exclude_tags}.
	KindCurrent DocumentKind = iota
	// KindModeTags is {mode: include|omit|..., tags: [...]}.
	KindModeTags
	// KindPreset is {preset, include_tags, omit_tags}.
	KindPreset
)

func (k DocumentKind) String() string {
	switch k {
	case KindModeTags:
		return "mode_tags"
	case KindPreset:
		return "preset"
	default:
		return "current"
	}
}

type modeTagsDoc struct {
	Mode string   `mapstructure:"mode"`
	Tags []string `mapstructure:"tags"`
}

type presetDoc struct {
	Preset      *string  `mapstructure:"preset"`
	IncludeTags []string `mapstructure:"include_tags"`
	ExcludeTags []string `mapstructure:"exclude_tags"`
	OmitTags    []string `mapstructure:"omit_tags"`
}

type currentDoc struct {
	Mode        *string   `mapstructure:"mode"`
	IncludeTags *[]string `mapstructure:"include_tags"`
	ExcludeTags *[]string `mapstructure:"exclude_tags"`
}

// Classify picks the document shape from the keys present.
func Classify(raw map[string]any) DocumentKind {
	_, hasMode := raw["mode"]
	_, hasTags := raw["tags"]
	_, hasInclude := raw["include_tags"]
	_, hasExclude := raw["exclude_tags"]
	_, hasPreset := raw["preset"]
	_, hasOmit := raw["omit_tags"]

	switch {
	case hasMode && hasTags && !hasInclude && !hasExclude:
		return KindModeTags
	case hasPreset || hasOmit:
		return KindPreset
	default:
		return KindCurrent
	}
}

// ParseDocument decodes a settings document of any known shape and
// normalizes it into Settings. Fields the document does not set keep their
// value from base; unknown fields are ignored.
func ParseDocument(data []byte, base Settings) (Settings, DocumentKind, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return base, KindCurrent, fmt.Errorf("decode render settings: %w", err)
	}
	if raw == nil {
		return base, KindCurrent, nil
	}

	out := base.clone()
	kind := Classify(raw)
	switch kind {
	case KindModeTags:
		var doc modeTagsDoc
		if err := decode(raw, &doc); err != nil {
			return base, kind, err
		}
		tags := NormalizeTags(doc.Tags)
		switch strings.ToLower(strings.TrimSpace(doc.Mode)) {
		case "include":
			out = Settings{Mode: ModeCustom, IncludeTags: tags, ExcludeTags: []string{}}
		case "omit":
			out = Settings{Mode: ModeCustom, IncludeTags: []string{}, ExcludeTags: tags}
		default:
			out = DefaultSettings()
		}

	case KindPreset:
		var doc presetDoc
		if err := decode(raw, &doc); err != nil {
			return base, kind, err
		}
		preset := "default"
		if doc.Preset != nil {
			preset = strings.ToLower(strings.TrimSpace(*doc.Preset))
		}
		include := NormalizeTags(doc.IncludeTags)
		if preset == "default" {
			out = Settings{Mode: ModeDefault, IncludeTags: include, ExcludeTags: NormalizeTags(doc.ExcludeTags)}
		} else if len(include) > 0 {
			out = Settings{Mode: ModeCustom, IncludeTags: include, ExcludeTags: []string{}}
		} else {
			out = Settings{Mode: ModeCustom, IncludeTags: []string{}, ExcludeTags: NormalizeTags(doc.OmitTags)}
		}

	default:
		var doc currentDoc
		if err := decode(raw, &doc); err != nil {
			return base, kind, err
		}
		if doc.Mode != nil {
			out.Mode = NormalizeMode(*doc.Mode)
		}
		if doc.IncludeTags != nil {
			out.IncludeTags = NormalizeTags(*doc.IncludeTags)
		}
		if doc.ExcludeTags != nil {
			out.ExcludeTags = NormalizeTags(*doc.ExcludeTags)
		}
	}
	return out, kind, nil
}

// decode maps raw into dst. A comma-separated string stands in for a tag list.
func decode(raw map[string]any, dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return fmt.Errorf("create settings decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode render settings: %w", err)
	}
	return nil
}
