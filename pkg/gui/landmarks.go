package gui

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Landmark names used by the controller.
const (
	LandmarkModelSelector  = "model_selector"
	LandmarkAcceptAll      = "accept_all"
	LandmarkStopGeneration = "stop_generation"
	LandmarkKeepWaiting    = "keep_waiting"
	LandmarkExternalInput  = "external_ai_input"
)

// fallbackLayout is consulted when the detected resolution has no entry.
const fallbackLayout = "1920x1080_secondary"

// Point is a position relative to a screen frame, 0..1 on each axis.
type Point struct {
	XRel float64 `yaml:"x_rel"`
	YRel float64 `yaml:"y_rel"`
}

// Landmarks maps a layout key such as "2560x1440_primary" to named points.
type Landmarks map[string]map[string]Point

// DefaultLandmarks returns positions measured for a 1080p secondary monitor.
func DefaultLandmarks() Landmarks {
	return Landmarks{
		fallbackLayout: {
			LandmarkModelSelector:  {XRel: 0.82, YRel: 0.93},
			LandmarkAcceptAll:      {XRel: 0.88, YRel: 0.12},
			LandmarkStopGeneration: {XRel: 0.95, YRel: 0.93},
			LandmarkKeepWaiting:    {XRel: 0.55, YRel: 0.58},
			LandmarkExternalInput:  {XRel: 0.50, YRel: 0.90},
		},
	}
}

// LoadLandmarks reads a landmark table from a YAML file. An empty path
// returns the defaults.
func LoadLandmarks(path string) (Landmarks, error) {
	if path == "" {
		return DefaultLandmarks(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read landmarks: %w", err)
	}
	var l Landmarks
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse landmarks %s: %w", path, err)
	}
	return l, nil
}

// target picks the screen the IDE lives on and its layout key. With more
// than one monitor the leftmost one is used.
func target(screens []Screen) (Screen, string) {
	if len(screens) == 0 {
		screens = []Screen{DefaultScreen}
	}
	s := screens[0]
	role := "primary"
	if len(screens) > 1 {
		for _, c := range screens[1:] {
			if c.X < s.X {
				s = c
			}
		}
		role = "secondary"
	}
	return s, fmt.Sprintf("%dx%d_%s", s.W, s.H, role)
}

// Locate converts a named landmark into absolute coordinates for the current
// monitor layout.
func (l Landmarks) Locate(screens []Screen, name string) (x, y int, ok bool) {
	s, key := target(screens)
	p, found := l[key][name]
	if !found {
		p, found = l[fallbackLayout][name]
	}
	if !found {
		return 0, 0, false
	}
	return s.X + int(float64(s.W)*p.XRel), s.Y + int(float64(s.H)*p.YRel), true
}
