// Package transfer encodes whole room graphs to a hand-editable interchange
// document and decodes them back, skipping bad records instead of failing
// the whole import.
package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/automapper/internal/mapper"
)

// Format selects the interchange serialization.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DocumentFormat tags interchange documents.
const DocumentFormat = "automapper"

// Version is the interchange schema version written by Encode.
const Version = 1

// ErrUnsupportedFormat is returned for a Format other than json or yaml.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ErrUnsupportedVersion is returned for documents newer than Version.
var ErrUnsupportedVersion = errors.New("unsupported document version")

var validate = newValidator()

// newValidator adds the roomcolor tag, which accepts exactly the colours
// mapper.Store.SetRoomColor accepts.
func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("roomcolor", func(fl validator.FieldLevel) bool {
		return mapper.ValidColor(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Document is the interchange file layout.
type Document struct {
	Format      string                `json:"format" yaml:"format"`
	Version     int                   `json:"version" yaml:"version"`
	ExportID    string                `json:"export_id,omitempty" yaml:"export_id,omitempty"`
	ExportedAt  string                `json:"exported_at,omitempty" yaml:"exported_at,omitempty"`
	CurrentRoom string                `json:"current_room,omitempty" yaml:"current_room,omitempty"`
	Rooms       map[string]RoomRecord `json:"rooms" yaml:"rooms"`
}

// RoomRecord is one room in a Document. Exits map direction names to target
// room ids; an empty target is an unexplored exit.
type RoomRecord struct {
	ID      string            `json:"id" yaml:"id" validate:"required"`
	Name    string            `json:"name" yaml:"name"`
	X       int               `json:"x" yaml:"x"`
	Y       int               `json:"y" yaml:"y"`
	Z       int               `json:"z" yaml:"z"`
	Exits   map[string]string `json:"exits,omitempty" yaml:"exits,omitempty"`
	Visited bool              `json:"visited,omitempty" yaml:"visited,omitempty"`
	Notes   string            `json:"notes,omitempty" yaml:"notes,omitempty"`
	Zone    string            `json:"zone,omitempty" yaml:"zone,omitempty"`
	Tags    []string          `json:"tags,omitempty" yaml:"tags,omitempty" validate:"omitempty,dive,required"`
	Color   string            `json:"color,omitempty" yaml:"color,omitempty" validate:"omitempty,roomcolor"`
}

// Reject names a record Decode skipped and why.
type Reject struct {
	Key    string
	Reason string
}

// Report summarizes a Decode.
type Report struct {
	Total    int
	Imported int
	Rejects  []Reject
}

// String renders the report as "N of M records imported".
func (r Report) String() string {
	return fmt.Sprintf("%d of %d records imported", r.Imported, r.Total)
}

// Encoder writes interchange documents.
type Encoder struct {
	now   func() time.Time
	newID func() string
}

// NewEncoder creates an Encoder stamping documents with the wall clock and a
// random export id.
func NewEncoder() *Encoder {
	return &Encoder{now: time.Now, newID: func() string { return uuid.NewString() }}
}

// Encode serializes g with the package default Encoder.
func Encode(g mapper.Graph, format Format) ([]byte, error) {
	return NewEncoder().Encode(g, format)
}

// Encode serializes g. JSON output is indented and keys are sorted so that
// re-exports of an unchanged graph diff cleanly apart from the header.
//
// Postcondition: Returns the encoded document or ErrUnsupportedFormat.
func (e *Encoder) Encode(g mapper.Graph, format Format) ([]byte, error) {
	doc := Document{
		Format:      DocumentFormat,
		Version:     Version,
		ExportID:    e.newID(),
		ExportedAt:  e.now().UTC().Format(time.RFC3339),
		CurrentRoom: g.CurrentRoomID,
		Rooms:       make(map[string]RoomRecord, len(g.Rooms)),
	}
	for id, r := range g.Rooms {
		doc.Rooms[id] = toRecord(r)
	}

	switch format {
	case FormatJSON, "":
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding json document: %w", err)
		}
		return append(out, '\n'), nil
	case FormatYAML:
		out, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encoding yaml document: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func toRecord(r mapper.Room) RoomRecord {
	rec := RoomRecord{
		ID:      r.ID,
		Name:    r.Name,
		X:       r.X,
		Y:       r.Y,
		Z:       r.Z,
		Visited: r.Visited,
		Notes:   r.Notes,
		Zone:    r.Zone,
		Color:   r.Color,
	}
	if len(r.Exits) > 0 {
		rec.Exits = make(map[string]string, len(r.Exits))
		for d, e := range r.Exits {
			rec.Exits[string(d)] = e.TargetRoomID
		}
	}
	if len(r.Tags) > 0 {
		rec.Tags = r.TagList()
	}
	return rec
}

// recordDecoder decodes one raw record into rec.
type recordDecoder func(rec *RoomRecord) error

// rawDocument is a document whose records have not been decoded yet.
type rawDocument struct {
	currentRoom string
	records     map[string]recordDecoder
}

// Decode parses an interchange document. A bare mapping from room id to
// record, without the header, is also accepted. Each record is decoded on
// its own; records that are structurally broken or fail validation are
// skipped and listed in the Report.
//
// Postcondition: Returns an error only if the text cannot be parsed as a
// document at all or carries an unsupported version; otherwise returns the
// graph of accepted records.
func Decode(data []byte, format Format) (mapper.Graph, Report, error) {
	var raw rawDocument
	var err error
	switch format {
	case FormatJSON, "":
		raw, err = splitJSON(data)
	case FormatYAML:
		raw, err = splitYAML(data)
	default:
		return mapper.Graph{}, Report{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return mapper.Graph{}, Report{}, err
	}

	g := mapper.NewGraph()
	g.CurrentRoomID = raw.currentRoom
	rep := Report{Total: len(raw.records)}

	keys := make([]string, 0, len(raw.records))
	for k := range raw.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var rec RoomRecord
		if err := raw.records[key](&rec); err != nil {
			rep.Rejects = append(rep.Rejects, Reject{Key: key, Reason: fmt.Sprintf("malformed record: %v", err)})
			continue
		}
		room, err := fromRecord(key, rec)
		if err != nil {
			rep.Rejects = append(rep.Rejects, Reject{Key: key, Reason: err.Error()})
			continue
		}
		g.Rooms[room.ID] = room
		rep.Imported++
	}
	return g, rep, nil
}

func splitJSON(data []byte) (rawDocument, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return rawDocument{}, fmt.Errorf("parsing json document: %w", err)
	}
	if top == nil {
		return rawDocument{}, errors.New("parsing json document: empty document")
	}

	var raw rawDocument
	records := top
	var tag string
	if json.Unmarshal(top["format"], &tag) == nil && tag == DocumentFormat {
		var hdr struct {
			Version     int    `json:"version"`
			CurrentRoom string `json:"current_room"`
		}
		if err := json.Unmarshal(data, &hdr); err != nil {
			return rawDocument{}, fmt.Errorf("parsing json document header: %w", err)
		}
		if hdr.Version > Version {
			return rawDocument{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
		}
		raw.currentRoom = hdr.CurrentRoom
		records = nil
		if len(top["rooms"]) > 0 {
			if err := json.Unmarshal(top["rooms"], &records); err != nil {
				return rawDocument{}, fmt.Errorf("parsing json document: rooms must be an object: %w", err)
			}
		}
	}

	raw.records = make(map[string]recordDecoder, len(records))
	for key, msg := range records {
		msg := msg
		raw.records[key] = func(rec *RoomRecord) error {
			trimmed := strings.TrimSpace(string(msg))
			if !strings.HasPrefix(trimmed, "{") {
				return errors.New("record is not an object")
			}
			return json.Unmarshal(msg, rec)
		}
	}
	return raw, nil
}

func splitYAML(data []byte) (rawDocument, error) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return rawDocument{}, fmt.Errorf("parsing yaml document: %w", err)
	}
	if top == nil {
		return rawDocument{}, errors.New("parsing yaml document: empty document")
	}

	var raw rawDocument
	records := top
	var tag string
	if node, ok := top["format"]; ok && node.Decode(&tag) == nil && tag == DocumentFormat {
		var hdr struct {
			Version     int    `yaml:"version"`
			CurrentRoom string `yaml:"current_room"`
		}
		if err := yaml.Unmarshal(data, &hdr); err != nil {
			return rawDocument{}, fmt.Errorf("parsing yaml document header: %w", err)
		}
		if hdr.Version > Version {
			return rawDocument{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
		}
		raw.currentRoom = hdr.CurrentRoom
		records = nil
		if node, ok := top["rooms"]; ok {
			if err := node.Decode(&records); err != nil {
				return rawDocument{}, fmt.Errorf("parsing yaml document: rooms must be a mapping: %w", err)
			}
		}
	}

	raw.records = make(map[string]recordDecoder, len(records))
	for key, node := range records {
		node := node
		raw.records[key] = func(rec *RoomRecord) error {
			if node.Kind != yaml.MappingNode {
				return errors.New("record is not a mapping")
			}
			return node.Decode(rec)
		}
	}
	return raw, nil
}

func fromRecord(key string, rec RoomRecord) (mapper.Room, error) {
	if err := validate.Struct(rec); err != nil {
		return mapper.Room{}, formatValidationError(err)
	}
	if rec.ID != key {
		return mapper.Room{}, fmt.Errorf("id %q does not match key %q", rec.ID, key)
	}

	room := mapper.Room{
		ID:      rec.ID,
		Name:    rec.Name,
		X:       rec.X,
		Y:       rec.Y,
		Z:       rec.Z,
		Exits:   make(map[mapper.Direction]mapper.Exit, len(rec.Exits)),
		Visited: rec.Visited,
		Notes:   rec.Notes,
		Zone:    rec.Zone,
		Color:   rec.Color,
	}
	for name, target := range rec.Exits {
		d, ok := mapper.ParseDirection(name)
		if !ok {
			return mapper.Room{}, fmt.Errorf("exit %q: unknown direction", name)
		}
		if _, dup := room.Exits[d]; dup {
			return mapper.Room{}, fmt.Errorf("exit %q: duplicate direction %s", name, d)
		}
		room.Exits[d] = mapper.Exit{TargetRoomID: target}
	}
	if len(rec.Tags) > 0 {
		room.Tags = make(map[string]bool, len(rec.Tags))
		for _, t := range rec.Tags {
			room.Tags[t] = true
		}
	}
	return room, nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "roomcolor":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a hex colour", strings.ToLower(fe.Field()), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// FormatFromPath picks yaml for .yaml/.yml files and json otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
