package patch

import (
	"fmt"
	"path"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/okian/benchrec/internal/domain/model"
)

// Literal text of the unmodified configuration modules.
const (
	recordAnimationOff     = "RECORD_ANIMATION = False"
	recordAnimationOn      = "RECORD_ANIMATION = True"
	recorderOutputFolder   = `OUTPUT_FOLDER = "tmp/animation"`
	recorderControllerName = `CONTROLLER_NAME = "animation"`
	recorderCompetitorID   = "COMPETITOR_ID = 0"
	externController       = `controller "<extern>"`

	// SettingsFileName is written next to the animation output for each run.
	SettingsFileName = "run_settings.yaml"
)

// RunSettings is the structured description of one run's configuration.
// It is rendered into file patches and into a YAML sidecar.
type RunSettings struct {
	RunID             string `yaml:"run_id"`
	DefaultController string `yaml:"default_controller"`
	OutputFolder      string `yaml:"output_folder"`
	ControllerName    string `yaml:"controller_name"`
	CompetitorID      string `yaml:"competitor_id"`
	Repository        string `yaml:"repository"`
	RecordAnimation   bool   `yaml:"record_animation"`
}

// Paths locates the files a run patches.
type Paths struct {
	WorldFile      string
	SupervisorFile string
	RecorderFile   string
	// SettingsDir receives run_settings.yaml. Empty skips the sidecar.
	SettingsDir string
}

// NewRunSettings builds the settings for recording c.
func NewRunSettings(runID, defaultController, outputFolder string, c model.Competitor) RunSettings {
	return RunSettings{
		RunID:             runID,
		DefaultController: defaultController,
		OutputFolder:      outputFolder,
		ControllerName:    c.ControllerName,
		CompetitorID:      c.ID,
		Repository:        c.RepositoryRef(),
		RecordAnimation:   true,
	}
}

// Plan renders the settings into ordered patches.
func (s RunSettings) Plan(p Paths) ([]ConfigPatch, error) {
	patches := []ConfigPatch{
		{
			File: p.WorldFile,
			Replacements: []Replacement{
				{Old: fmt.Sprintf("controller %q", s.DefaultController), New: externController},
			},
		},
	}
	if s.RecordAnimation {
		patches = append(patches, ConfigPatch{
			File:         p.SupervisorFile,
			Replacements: []Replacement{{Old: recordAnimationOff, New: recordAnimationOn}},
		})
	}
	patches = append(patches, ConfigPatch{
		File: p.RecorderFile,
		Replacements: []Replacement{
			{Old: recorderOutputFolder, New: fmt.Sprintf("OUTPUT_FOLDER = %q", s.OutputFolder)},
			{Old: recorderControllerName, New: fmt.Sprintf("CONTROLLER_NAME = %q", s.ControllerName)},
			{Old: recorderCompetitorID, New: "COMPETITOR_ID = " + pyLiteral(s.CompetitorID)},
		},
	})

	if p.SettingsDir != "" {
		body, err := yaml.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("%w: encode run settings: %w", ErrPatch, err)
		}
		patches = append(patches, ConfigPatch{File: path.Join(p.SettingsDir, SettingsFileName), Content: body})
	}
	return patches, nil
}

// pyLiteral keeps canonical decimal ids bare, as the recorder compares them
// as ints. Anything else, leading zeros included, is quoted.
func pyLiteral(id string) string {
	if v, err := strconv.ParseUint(id, 10, 64); err == nil && strconv.FormatUint(v, 10) == id {
		return id
	}
	return strconv.Quote(id)
}
