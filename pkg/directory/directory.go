// Package directory maps cameras to corridors and corridors to rider advice.
//
// A Directory is built once at startup from a catalog and never mutated, so it
// is safe to share between goroutines without locking.
package directory

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/nicktill/corridorpulse/pkg/traffic"
)

// UnknownCorridor is returned when a camera is not in the catalog. It is a
// normal outcome, not a fault.
const UnknownCorridor traffic.CorridorID = "Unknown"

// DefaultSuggestion is the advice for corridors without configured advice.
const DefaultSuggestion = "Use nearby routes or subway as alternatives."

// DefaultAlternatives is used when a corridor has no configured alternative pair.
var DefaultAlternatives = Alternatives{
	Secondary: "Check nearby subway",
	Subway:    "Consider walking 5-10 mins",
}

var (
	// ErrDuplicateCamera is returned when the catalog lists a camera id twice
	ErrDuplicateCamera = errors.New("duplicate camera id")

	// ErrDuplicateCorridor is returned when the catalog lists a corridor id twice
	ErrDuplicateCorridor = errors.New("duplicate corridor id")

	// ErrUnknownCorridorRef is returned when a camera points at a corridor that is not defined
	ErrUnknownCorridorRef = errors.New("camera references unknown corridor")

	// ErrEmptyID is returned for catalog entries without an id
	ErrEmptyID = errors.New("catalog entry has an empty id")
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Alternatives is the pair of fallback options recommended under congestion.
type Alternatives struct {
	Secondary string `yaml:"secondary" json:"secondary"`
	Subway    string `yaml:"subway" json:"subway"`
}

// Corridor is a named road segment with rider advice.
type Corridor struct {
	ID           traffic.CorridorID `yaml:"id" json:"id"`
	Name         string             `yaml:"name" json:"name"`
	Advice       string             `yaml:"advice" json:"advice,omitempty"`
	Alternatives *Alternatives      `yaml:"alternatives" json:"alternatives,omitempty"`
}

// Camera is a traffic camera feed.
type Camera struct {
	ID       traffic.CameraID   `yaml:"id" json:"id"`
	Name     string             `yaml:"name" json:"name"`
	Corridor traffic.CorridorID `yaml:"corridor" json:"corridor"`
	URL      string             `yaml:"url" json:"url"`
}

// Catalog is the static configuration surface the Directory is built from.
type Catalog struct {
	Corridors []Corridor `yaml:"corridors"`
	Cameras   []Camera   `yaml:"cameras"`
}

// Directory resolves cameras to corridors and corridors to advice.
type Directory struct {
	corridors    map[traffic.CorridorID]Corridor
	corridorList []Corridor
	cameras      map[traffic.CameraID]Camera
	cameraList   []Camera
	byURL        map[string]traffic.CameraID
}

// Default builds a Directory from the embedded Queens catalog.
func Default() (*Directory, error) {
	return Parse(defaultCatalog)
}

// Load builds a Directory from a YAML catalog file.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a Directory from YAML catalog bytes.
func Parse(data []byte) (*Directory, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(cat)
}

// New validates a catalog and builds an immutable Directory from it.
func New(cat Catalog) (*Directory, error) {
	d := &Directory{
		corridors: make(map[traffic.CorridorID]Corridor, len(cat.Corridors)),
		cameras:   make(map[traffic.CameraID]Camera, len(cat.Cameras)),
		byURL:     make(map[string]traffic.CameraID, len(cat.Cameras)),
	}

	for _, c := range cat.Corridors {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: corridor %q", ErrEmptyID, c.Name)
		}
		if _, exists := d.corridors[c.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCorridor, c.ID)
		}
		if c.Name == "" {
			c.Name = string(c.ID)
		}
		d.corridors[c.ID] = c
		d.corridorList = append(d.corridorList, c)
	}

	for _, cam := range cat.Cameras {
		if cam.ID == "" {
			return nil, fmt.Errorf("%w: camera %q", ErrEmptyID, cam.Name)
		}
		if _, exists := d.cameras[cam.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCamera, cam.ID)
		}
		if _, ok := d.corridors[cam.Corridor]; !ok {
			return nil, fmt.Errorf("%w: camera %s -> %q", ErrUnknownCorridorRef, cam.ID, cam.Corridor)
		}
		d.cameras[cam.ID] = cam
		d.cameraList = append(d.cameraList, cam)
		if cam.URL != "" {
			d.byURL[cam.URL] = cam.ID
		}
	}

	sort.SliceStable(d.corridorList, func(i, j int) bool { return d.corridorList[i].ID < d.corridorList[j].ID })
	return d, nil
}

// ResolveCorridor returns the corridor for a camera id or stream URL,
// or UnknownCorridor when the camera is not catalogued.
func (d *Directory) ResolveCorridor(camera traffic.CameraID) traffic.CorridorID {
	if cam, ok := d.Camera(camera); ok {
		return cam.Corridor
	}
	return UnknownCorridor
}

// Camera looks a camera up by id, falling back to its stream URL.
func (d *Directory) Camera(camera traffic.CameraID) (Camera, bool) {
	if cam, ok := d.cameras[camera]; ok {
		return cam, true
	}
	if id, ok := d.byURL[string(camera)]; ok {
		return d.cameras[id], true
	}
	return Camera{}, false
}

// SuggestionFor returns the rider advice for a corridor.
func (d *Directory) SuggestionFor(corridor traffic.CorridorID) string {
	if c, ok := d.corridors[corridor]; ok && c.Advice != "" {
		return c.Advice
	}
	return DefaultSuggestion
}

// AlternativesFor returns the (secondary route, subway option) pair for a corridor.
func (d *Directory) AlternativesFor(corridor traffic.CorridorID) Alternatives {
	if c, ok := d.corridors[corridor]; ok && c.Alternatives != nil {
		return *c.Alternatives
	}
	return DefaultAlternatives
}

// CorridorName returns the display name, or the id itself when unknown.
func (d *Directory) CorridorName(corridor traffic.CorridorID) string {
	if c, ok := d.corridors[corridor]; ok {
		return c.Name
	}
	return string(corridor)
}

// HasCorridor reports whether the corridor is catalogued.
func (d *Directory) HasCorridor(corridor traffic.CorridorID) bool {
	_, ok := d.corridors[corridor]
	return ok
}

// Corridors returns all corridors sorted by id.
func (d *Directory) Corridors() []Corridor {
	out := make([]Corridor, len(d.corridorList))
	copy(out, d.corridorList)
	return out
}

// Cameras returns all cameras in catalog order.
func (d *Directory) Cameras() []Camera {
	out := make([]Camera, len(d.cameraList))
	copy(out, d.cameraList)
	return out
}

// CorridorIDs returns the ids of all corridors sorted.
func (d *Directory) CorridorIDs() []traffic.CorridorID {
	ids := make([]traffic.CorridorID, len(d.corridorList))
	for i, c := range d.corridorList {
		ids[i] = c.ID
	}
	return ids
}
