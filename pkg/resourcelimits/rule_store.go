package resourcelimits

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-guard/pkg/errors"
	"github.com/core-tools/hsu-guard/pkg/logging"
)

// DefaultRuleFile is the rule file name used when none is configured
const DefaultRuleFile = "kural.json"

const ruleFilePermissions = 0644

// fileRuleStore keeps the rule in a JSON file. There is no in-memory
// cache; the file is the shared state between the edit path and the
// enforcement loop, and rename is its only synchronization.
type fileRuleStore struct {
	path   string
	logger logging.Logger
}

// NewFileRuleStore creates a RuleStore backed by the JSON file at path
func NewFileRuleStore(path string, logger logging.Logger) RuleStore {
	if path == "" {
		path = DefaultRuleFile
	}
	return &fileRuleStore{
		path:   path,
		logger: logger,
	}
}

// Load reads the rule file. Absence, unreadable content, a non-integer
// value or a negative value all yield the zero rule.
func (s *fileRuleStore) Load() ResourceLimitRule {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debugf("Rule file %s does not exist, using default rule", s.path)
		} else {
			s.logger.Warnf("Failed to read rule file %s, using default rule: %v", s.path, err)
		}
		return ResourceLimitRule{}
	}

	var rule ResourceLimitRule
	if err := json.Unmarshal(data, &rule); err != nil {
		s.logger.Warnf("Rule file %s is malformed, using default rule: %v", s.path, err)
		return ResourceLimitRule{}
	}
	if err := rule.Validate(); err != nil {
		s.logger.Warnf("Rule file %s holds an invalid rule, using default rule: %v", s.path, err)
		return ResourceLimitRule{}
	}

	return rule
}

// Save validates rule and replaces the rule file atomically: the new
// content goes to a temp file in the same directory which is then
// renamed over the target.
func (s *fileRuleStore) Save(rule ResourceLimitRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return errors.NewInternalError("failed to encode rule", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create rule directory", err).WithContext("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return errors.NewIOError("failed to create temp rule file", err).WithContext("dir", dir)
	}
	tmpPath := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewIOError("failed to write temp rule file", err).WithContext("path", tmpPath)
	}

	if err := os.Chmod(tmpPath, ruleFilePermissions); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewIOError("failed to set rule file permissions", err).WithContext("path", tmpPath)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewIOError("failed to replace rule file", err).WithContext("path", s.path)
	}

	s.logger.Infof("Saved rule %s to %s", rule, s.path)
	return nil
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
