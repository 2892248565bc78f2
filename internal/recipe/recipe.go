// Package recipe holds the declarative build recipe data model: recipe
// identity, build steps, source directives, dependency specs, and the
// sources.yaml and env-file loaders that feed the coordinator.
package recipe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chordtoll/bootstrapper/internal/envsubst"
	"gopkg.in/yaml.v3"
)

// SourceDirective describes how one logical source is materialised into a
// build root.
type SourceDirective struct {
	Extract   string   `yaml:"extract,omitempty"`
	NoExtract string   `yaml:"noextract,omitempty"`
	Copy      []string `yaml:"copy,omitempty"`
	Chmod     string   `yaml:"chmod,omitempty"`
}

// SourceContents is the global sources.yaml entry for one logical source
// name: where to fetch it, and the SHA-256 it must hash to.
type SourceContents struct {
	URL string `yaml:"url"`
	SHA string `yaml:"sha"`
}

// DepSpec names one recipe dependency plus the optional path rewrite applied
// when its artefact archive is unpacked into the build root.
type DepSpec struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	From    string `yaml:"from,omitempty"`
	To      string `yaml:"to,omitempty"`
}

// ParseDepSpec parses the "name:version[:from[:to]]" shorthand used in a
// recipe's deps list.
func ParseDepSpec(s string) (DepSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return DepSpec{}, fmt.Errorf("recipe: malformed dep spec %q", s)
	}
	d := DepSpec{Name: parts[0], Version: parts[1]}
	if len(parts) > 2 {
		d.From = parts[2]
	}
	if len(parts) > 3 {
		d.To = parts[3]
	}
	return d, nil
}

// BuildStep is either a bare command string or a {cmd, serial, bash} triple.
// Defaults, preserved exactly: Serial = true, Bash = false.
type BuildStep struct {
	Cmd    string
	Serial bool
	Bash   bool
}

func (s *BuildStep) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Cmd = value.Value
		s.Serial = true
		s.Bash = false
		return nil
	}
	var complex struct {
		Cmd    string `yaml:"cmd"`
		Serial *bool  `yaml:"serial"`
		Bash   *bool  `yaml:"bash"`
	}
	if err := value.Decode(&complex); err != nil {
		return err
	}
	s.Cmd = complex.Cmd
	s.Serial = true
	if complex.Serial != nil {
		s.Serial = *complex.Serial
	}
	s.Bash = false
	if complex.Bash != nil {
		s.Bash = *complex.Bash
	}
	return nil
}

func (s BuildStep) MarshalYAML() (interface{}, error) {
	if s.Serial && !s.Bash {
		return s.Cmd, nil
	}
	return struct {
		Cmd    string `yaml:"cmd"`
		Serial bool   `yaml:"serial"`
		Bash   bool   `yaml:"bash"`
	}{s.Cmd, s.Serial, s.Bash}, nil
}

// IsDefault reports whether this step is the literal "default" substitution
// token for its enclosing piecewise phase.
func (s BuildStep) IsDefault() bool { return s.Cmd == "default" }

// PiecewisePhases names the fixed phase order a Piecewise build executes in.
var PiecewisePhases = []string{"unpack", "prepare", "configure", "compile", "install", "postprocess"}

// Build holds either a Single step list or a Piecewise phase breakdown.
// Exactly one of Single/Phases is populated, mirroring the untagged Rust
// enum RecipeBuildSteps.
type Build struct {
	Single []BuildStep

	Piecewise     bool
	Phases        map[string][]BuildStep // keyed by PiecewisePhases entries; absent key == phase omitted entirely
	UnpackDirname string
	PatchDir      string
	PackageDir    string
}

type rawBuild struct {
	Single *[]BuildStep `yaml:"single"`

	Unpack        *[]BuildStep `yaml:"unpack"`
	UnpackDirname *string      `yaml:"unpack_dirname"`
	PatchDir      *string      `yaml:"patch_dir"`
	PackageDir    *string      `yaml:"package_dir"`
	Prepare       *[]BuildStep `yaml:"prepare"`
	Configure     *[]BuildStep `yaml:"configure"`
	Compile       *[]BuildStep `yaml:"compile"`
	Install       *[]BuildStep `yaml:"install"`
	Postprocess   *[]BuildStep `yaml:"postprocess"`
}

func (b *Build) UnmarshalYAML(value *yaml.Node) error {
	var raw rawBuild
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Single != nil {
		b.Single = *raw.Single
		return nil
	}
	b.Piecewise = true
	b.Phases = make(map[string][]BuildStep)
	if raw.Unpack != nil {
		b.Phases["unpack"] = *raw.Unpack
	}
	if raw.Prepare != nil {
		b.Phases["prepare"] = *raw.Prepare
	}
	if raw.Configure != nil {
		b.Phases["configure"] = *raw.Configure
	}
	if raw.Compile != nil {
		b.Phases["compile"] = *raw.Compile
	}
	if raw.Install != nil {
		b.Phases["install"] = *raw.Install
	}
	if raw.Postprocess != nil {
		b.Phases["postprocess"] = *raw.Postprocess
	}
	if raw.UnpackDirname != nil {
		b.UnpackDirname = *raw.UnpackDirname
	}
	if raw.PatchDir != nil {
		b.PatchDir = *raw.PatchDir
	}
	if raw.PackageDir != nil {
		b.PackageDir = *raw.PackageDir
	}
	return nil
}

func (b Build) MarshalYAML() (interface{}, error) {
	if !b.Piecewise {
		return struct {
			Single []BuildStep `yaml:"single"`
		}{b.Single}, nil
	}
	raw := rawBuild{
		UnpackDirname: &b.UnpackDirname,
		PatchDir:      &b.PatchDir,
	}
	if b.PackageDir != "" {
		raw.PackageDir = &b.PackageDir
	}
	assign := func(name string, dst **[]BuildStep) {
		if steps, ok := b.Phases[name]; ok {
			*dst = &steps
		}
	}
	assign("unpack", &raw.Unpack)
	assign("prepare", &raw.Prepare)
	assign("configure", &raw.Configure)
	assign("compile", &raw.Compile)
	assign("install", &raw.Install)
	assign("postprocess", &raw.Postprocess)
	return raw, nil
}

// License describes ownership/SPDX metadata for one of a recipe's two
// licensable artefacts (the recipe itself, and the built package).
type License struct {
	SPDX        string   `yaml:"spdx"`
	Owner       []string `yaml:"owner"`
	LicenseFile string   `yaml:"license_file"`
}

// Licenses is the optional informational licensing block of a recipe.
type Licenses struct {
	Recipe  *License `yaml:"recipe,omitempty"`
	Package *License `yaml:"package,omitempty"`
}

// RecipeVersion is the as-loaded-from-YAML shape of one
// recipes/<target>/<version>.yaml file.
type RecipeVersion struct {
	Licenses  *Licenses                  `yaml:"licenses,omitempty"`
	Source    map[string]SourceDirective `yaml:"source,omitempty"`
	Shell     string                     `yaml:"shell,omitempty"`
	Deps      []string                   `yaml:"deps,omitempty"`
	Mkdirs    []string                   `yaml:"mkdirs,omitempty"`
	Build     Build                      `yaml:"build"`
	Artefacts []string                   `yaml:"artefacts"`
}

// NamedRecipeVersion is a RecipeVersion resolved against its (target,
// version) identity, with string dep specs parsed into DepSpecs. This is
// the struct hashed for the recipe-identity hash and sent across the wire.
type NamedRecipeVersion struct {
	Name      string                     `yaml:"name"`
	Version   string                     `yaml:"version"`
	Source    map[string]SourceDirective `yaml:"source,omitempty"`
	Shell     string                     `yaml:"shell,omitempty"`
	Deps      []DepSpec                  `yaml:"deps,omitempty"`
	Mkdirs    []string                   `yaml:"mkdirs,omitempty"`
	Build     Build                      `yaml:"build"`
	Artefacts []string                   `yaml:"artefacts"`
}

// RecipePath returns the on-disk path of a recipe file relative to root.
func RecipePath(root, target, version string) string {
	return filepath.Join(root, "recipes", target, version+".yaml")
}

// LoadByTargetVersion reads and resolves recipes/<target>/<version>.yaml
// under root into a NamedRecipeVersion.
func LoadByTargetVersion(root, target, version string) (NamedRecipeVersion, error) {
	b, err := os.ReadFile(RecipePath(root, target, version))
	if err != nil {
		return NamedRecipeVersion{}, fmt.Errorf("recipe: load %s:%s: %w", target, version, err)
	}
	var rv RecipeVersion
	if err := yaml.Unmarshal(b, &rv); err != nil {
		return NamedRecipeVersion{}, fmt.Errorf("recipe: parse %s:%s: %w", target, version, err)
	}
	deps := make([]DepSpec, 0, len(rv.Deps))
	for _, s := range rv.Deps {
		d, err := ParseDepSpec(s)
		if err != nil {
			return NamedRecipeVersion{}, fmt.Errorf("recipe: %s:%s: %w", target, version, err)
		}
		deps = append(deps, d)
	}
	return NamedRecipeVersion{
		Name:      target,
		Version:   version,
		Source:    rv.Source,
		Shell:     rv.Shell,
		Deps:      deps,
		Mkdirs:    rv.Mkdirs,
		Build:     rv.Build,
		Artefacts: rv.Artefacts,
	}, nil
}

// HasLicense reports whether a loaded recipe declares licensing metadata;
// absence is a load-time warning, never an error.
func (rv RecipeVersion) HasLicense() bool { return rv.Licenses != nil }

// LoadSources reads the global sources.yaml map under root.
func LoadSources(root string) (map[string]SourceContents, error) {
	b, err := os.ReadFile(filepath.Join(root, "sources.yaml"))
	if err != nil {
		return nil, fmt.Errorf("recipe: load sources.yaml: %w", err)
	}
	var m map[string]SourceContents
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("recipe: parse sources.yaml: %w", err)
	}
	return m, nil
}

// LoadEnvFile loads the optional env file sitting next to
// recipes/<target>.yaml: one K=V line per entry, values optionally
// double-quoted, each value env-substituted against entries loaded earlier
// in the file.
func LoadEnvFile(root, target string) (map[string]string, error) {
	path := filepath.Join(root, "recipes", filepath.Dir(target), "env")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("recipe: load env file for %s: %w", target, err)
	}
	out := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("recipe: malformed env line %q in %s", line, path)
		}
		v = strings.Trim(v, `"`)
		expanded, err := envsubst.Substitute(v, out)
		if err != nil {
			return nil, fmt.Errorf("recipe: env file %s: %w", path, err)
		}
		out[k] = expanded
	}
	return out, nil
}
