package taxonomy

import (
	"bytes"
	"embed"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var dataFS embed.FS

// Field is the controlled vocabulary for one metadata field.
type Field struct {
	AllowedValues []string `yaml:"allowed_values" json:"allowed_values"`
	AllowBlanks   bool     `yaml:"allow_blanks" json:"allow_blanks"`
	AllowAny      bool     `yaml:"allow_any" json:"allow_any,omitempty"`
}

// Allows reports an exact, case-sensitive membership hit.
func (f Field) Allows(v string) bool {
	if f.AllowAny {
		return true
	}
	for _, a := range f.AllowedValues {
		if a == v {
			return true
		}
	}
	return false
}

type Taxonomy struct {
	ID           string           `yaml:"id" json:"id"`
	Organisation string           `yaml:"organisation" json:"organisation"`
	Fields       map[string]Field `yaml:"fields" json:"fields"`
}

func (t Taxonomy) Field(name string) (Field, bool) {
	f, ok := t.Fields[name]
	return f, ok
}

func (t Taxonomy) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for n := range t.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t Taxonomy) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("taxonomy id required")
	}
	if strings.TrimSpace(t.Organisation) == "" {
		return errors.Newf("taxonomy %s: organisation required", t.ID)
	}
	if len(t.Fields) == 0 {
		return errors.Newf("taxonomy %s: no fields", t.ID)
	}
	for name, f := range t.Fields {
		if !f.AllowAny && len(f.AllowedValues) == 0 {
			return errors.Newf("taxonomy %s: field %s has no allowed values", t.ID, name)
		}
	}
	return nil
}

// Registry holds one taxonomy per organisation. It is built once at start-up
// and handed to each ingest run.
type Registry struct {
	byOrg map[string]Taxonomy
}

var ErrUnknownOrganisation = errors.New("no taxonomy for organisation")

// Default loads the taxonomies bundled with the binary.
func Default() (*Registry, error) {
	files, err := dataFS.ReadDir("data")
	if err != nil {
		return nil, err
	}
	reg := &Registry{byOrg: map[string]Taxonomy{}}
	for _, f := range files {
		data, err := dataFS.ReadFile("data/" + f.Name())
		if err != nil {
			return nil, err
		}
		if err := reg.add(bytes.NewReader(data)); err != nil {
			return nil, errors.Wrapf(err, "load %s", f.Name())
		}
	}
	return reg, nil
}

// Load builds the default registry and overlays taxonomies from a YAML file,
// which may hold several documents separated by ---.
func Load(path string) (*Registry, error) {
	reg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open taxonomy file")
	}
	defer fh.Close()
	if err := reg.add(fh); err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return reg, nil
}

func (r *Registry) add(src io.Reader) error {
	dec := yaml.NewDecoder(src)
	for {
		var t Taxonomy
		err := dec.Decode(&t)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := t.validate(); err != nil {
			return err
		}
		r.byOrg[strings.ToUpper(t.Organisation)] = t
	}
}

// New builds a registry from in-memory taxonomies.
func New(taxonomies ...Taxonomy) (*Registry, error) {
	reg := &Registry{byOrg: map[string]Taxonomy{}}
	for _, t := range taxonomies {
		if err := t.validate(); err != nil {
			return nil, err
		}
		reg.byOrg[strings.ToUpper(t.Organisation)] = t
	}
	return reg, nil
}

func (r *Registry) For(org string) (Taxonomy, error) {
	t, ok := r.byOrg[strings.ToUpper(org)]
	if !ok {
		return Taxonomy{}, errors.Wrapf(ErrUnknownOrganisation, "%q", org)
	}
	return t, nil
}

func (r *Registry) Organisations() []string {
	res := make([]string, 0, len(r.byOrg))
	for _, t := range r.byOrg {
		res = append(res, t.Organisation)
	}
	sort.Strings(res)
	return res
}
