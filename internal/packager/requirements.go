package packager

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// RequirementsFile is the dependency manifest embedded in backend uploads
const RequirementsFile = "requirements.txt"

var specifierPattern = regexp.MustCompile(`(==|>=|<=|~=|!=|>|<)`)

// Requirements is a snapshot of the dependency manifest
type Requirements struct {
	Raw      string
	Packages map[string]string
}

// ReadRequirements reads requirements.txt from dir. A missing or unreadable
// manifest yields an empty snapshot; the upload proceeds without it.
func ReadRequirements(dir string) Requirements {
	reqs := Requirements{Packages: make(map[string]string)}

	path := filepath.Join(dir, RequirementsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to read requirements")
		}
		return reqs
	}
	reqs.Raw = string(data)

	for _, line := range strings.Split(reqs.Raw, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		// Parse name==version, name>=version, ...
		loc := specifierPattern.FindStringIndex(line)
		if loc == nil {
			reqs.Packages[line] = "*"
			continue
		}
		name := strings.TrimSpace(line[:loc[0]])
		reqs.Packages[name] = strings.TrimSpace(line[loc[0]:])
	}

	return reqs
}
