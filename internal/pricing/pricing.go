// Package pricing holds the credit cost table for generation models and the
// mapping from Stripe price ids to purchased credits.
package pricing

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Table is the full pricing configuration. One table both quotes and deducts.
type Table struct {
	DefaultImageModel string       `yaml:"default_image_model"`
	DefaultVideoModel string       `yaml:"default_video_model"`
	ImageModels       []ImageModel `yaml:"image_models"`
	VideoModels       []VideoModel `yaml:"video_models"`
	Plans             []Plan       `yaml:"plans"`
}

// ImageModel is a selectable text-to-image model.
type ImageModel struct {
	Name           string `yaml:"name"`
	Endpoint       string `yaml:"endpoint"`
	Cost           int    `yaml:"cost"`
	InferenceSteps int    `yaml:"inference_steps"`
}

// VideoModel is a selectable text-to-video model priced per duration.
type VideoModel struct {
	Name       string      `yaml:"name"`
	Endpoint   string      `yaml:"endpoint"`
	Resolution string      `yaml:"resolution"`
	Durations  []VideoCost `yaml:"durations"`
}

// VideoCost prices one supported clip duration with and without audio.
type VideoCost struct {
	Duration  string `yaml:"duration"`
	Silent    int    `yaml:"silent"`
	WithAudio int    `yaml:"with_audio"`
}

// Plan maps a Stripe price id to the credits it buys.
type Plan struct {
	PriceID string `yaml:"price_id"`
	Name    string `yaml:"name"`
	Credits int    `yaml:"credits"`
}

const (
	ImageModelSchnell = "schnell"
	ImageModelDev     = "dev"
	ImageModelPro     = "pro"
	VideoModelVeo3    = "veo3-fast"
)

// Default returns the built-in table. Plans are empty: price ids are
// account specific and come from the YAML override.
func Default() Table {
	return Table{
		DefaultImageModel: ImageModelSchnell,
		DefaultVideoModel: VideoModelVeo3,
		ImageModels: []ImageModel{
			{Name: ImageModelSchnell, Endpoint: "fal-ai/flux/schnell", Cost: 1, InferenceSteps: 4},
			{Name: ImageModelDev, Endpoint: "fal-ai/flux/dev", Cost: 2, InferenceSteps: 28},
			{Name: ImageModelPro, Endpoint: "fal-ai/flux-pro", Cost: 3, InferenceSteps: 28},
		},
		VideoModels: []VideoModel{
			{
				Name:       VideoModelVeo3,
				Endpoint:   "fal-ai/veo3/fast",
				Resolution: "720p",
				Durations: []VideoCost{
					{Duration: "4s", Silent: 2, WithAudio: 4},
					{Duration: "6s", Silent: 3, WithAudio: 8},
					{Duration: "8s", Silent: 4, WithAudio: 12},
				},
			},
		},
	}
}

// Load reads a YAML pricing file. Environment variables in the form ${VAR}
// are expanded before parsing. Sections missing from the file keep their
// built-in defaults. An empty path returns Default().
func Load(path string) (Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("pricing: read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML pricing data and validates the merged table.
func Parse(data []byte) (Table, error) {
	var override Table
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &override); err != nil {
		return Table{}, fmt.Errorf("pricing: parse config: %w", err)
	}

	t := Default()
	if len(override.ImageModels) > 0 {
		t.ImageModels = override.ImageModels
	}
	if len(override.VideoModels) > 0 {
		t.VideoModels = override.VideoModels
	}
	if override.DefaultImageModel != "" {
		t.DefaultImageModel = override.DefaultImageModel
	}
	if override.DefaultVideoModel != "" {
		t.DefaultVideoModel = override.DefaultVideoModel
	}
	t.Plans = override.Plans

	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Validate checks names, costs and plan uniqueness.
func (t Table) Validate() error {
	images := make(map[string]bool, len(t.ImageModels))
	for i, m := range t.ImageModels {
		if m.Name == "" || m.Endpoint == "" {
			return fmt.Errorf("pricing: image_models[%d]: name and endpoint are required", i)
		}
		if images[m.Name] {
			return fmt.Errorf("pricing: duplicate image model %q", m.Name)
		}
		if m.Cost <= 0 {
			return fmt.Errorf("pricing: image model %q: cost must be positive", m.Name)
		}
		images[m.Name] = true
	}
	if !images[t.DefaultImageModel] {
		return fmt.Errorf("pricing: default image model %q is not configured", t.DefaultImageModel)
	}

	videos := make(map[string]bool, len(t.VideoModels))
	for i, m := range t.VideoModels {
		if m.Name == "" || m.Endpoint == "" {
			return fmt.Errorf("pricing: video_models[%d]: name and endpoint are required", i)
		}
		if videos[m.Name] {
			return fmt.Errorf("pricing: duplicate video model %q", m.Name)
		}
		if len(m.Durations) == 0 {
			return fmt.Errorf("pricing: video model %q: at least one duration is required", m.Name)
		}
		for _, d := range m.Durations {
			if d.Duration == "" || d.Silent <= 0 || d.WithAudio <= 0 {
				return fmt.Errorf("pricing: video model %q: invalid duration entry %q", m.Name, d.Duration)
			}
		}
		videos[m.Name] = true
	}
	if !videos[t.DefaultVideoModel] {
		return fmt.Errorf("pricing: default video model %q is not configured", t.DefaultVideoModel)
	}

	prices := make(map[string]bool, len(t.Plans))
	for i, p := range t.Plans {
		if p.PriceID == "" {
			return fmt.Errorf("pricing: plans[%d]: price_id is required", i)
		}
		if prices[p.PriceID] {
			return fmt.Errorf("pricing: duplicate plan price id %q", p.PriceID)
		}
		if p.Credits <= 0 {
			return fmt.Errorf("pricing: plan %q: credits must be positive", p.PriceID)
		}
		prices[p.PriceID] = true
	}
	return nil
}

// ImageModel resolves a requested model name. Unknown or empty names fall
// back to the default model.
func (t Table) ImageModel(name string) ImageModel {
	var fallback ImageModel
	for _, m := range t.ImageModels {
		if m.Name == name {
			return m
		}
		if m.Name == t.DefaultImageModel {
			fallback = m
		}
	}
	return fallback
}

// VideoModel resolves a requested model name with the same fallback rule as
// ImageModel.
func (t Table) VideoModel(name string) VideoModel {
	var fallback VideoModel
	for _, m := range t.VideoModels {
		if m.Name == name {
			return m
		}
		if m.Name == t.DefaultVideoModel {
			fallback = m
		}
	}
	return fallback
}

// Cost returns the credit cost for a clip duration. ok is false when the
// duration is not offered by the model.
func (m VideoModel) Cost(duration string, audio bool) (int, bool) {
	for _, d := range m.Durations {
		if d.Duration != duration {
			continue
		}
		if audio {
			return d.WithAudio, true
		}
		return d.Silent, true
	}
	return 0, false
}

// SupportedDurations lists the durations in table order.
func (m VideoModel) SupportedDurations() []string {
	out := make([]string, 0, len(m.Durations))
	for _, d := range m.Durations {
		out = append(out, d.Duration)
	}
	return out
}

// CreditsForPrice looks up the credits bought by a Stripe price id.
func (t Table) CreditsForPrice(priceID string) (int, bool) {
	for _, p := range t.Plans {
		if p.PriceID == priceID {
			return p.Credits, true
		}
	}
	return 0, false
}
