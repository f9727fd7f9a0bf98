package detector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/viant/mcpguard/internal/config"
)

func newStoreWithPattern(t *testing.T, pattern string) *PatternStore {
	t.Helper()
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "patterns.txt"), []byte(pattern), 0o644))
	store := NewPatternStore(dir, newTestLogger(t))
	_, err := store.Load()
	assert.NoError(t, err)
	return store
}

func TestDetector_Scan_PassWhenBothModesOff(t *testing.T) {
	d := New(newStoreWithPattern(t, "injection"), NewClassifierPool(nil, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeOff, AIMode: config.ModeOff}
	res := d.Scan(context.Background(), "try injection here", dest, false)
	assert.Equal(t, ActionPass, res.Action)
}

func TestDetector_Scan_EmptyBodyAlwaysPasses(t *testing.T) {
	d := New(newStoreWithPattern(t, "injection"), NewClassifierPool(nil, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeBlock}
	res := d.Scan(context.Background(), "", dest, false)
	assert.Equal(t, ActionPass, res.Action)
}

func TestDetector_Scan_RegexBlock(t *testing.T) {
	d := New(newStoreWithPattern(t, "injection"), NewClassifierPool(nil, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeBlock}
	res := d.Scan(context.Background(), "try injection here", dest, false)
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, "regex", res.Engine)
	assert.Equal(t, "try injection here", res.Body, "a block must not redact the body")
}

func TestDetector_Scan_RegexRedactSubstitutesMatch(t *testing.T) {
	d := New(newStoreWithPattern(t, "injection"), NewClassifierPool(nil, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeRedact}
	res := d.Scan(context.Background(), "try injection here", dest, false)
	assert.Equal(t, ActionRedact, res.Action)
	assert.Contains(t, res.Body, "**REDACTED**")
	assert.NotContains(t, res.Body, "injection")
}

func TestDetector_Scan_NoMatchPasses(t *testing.T) {
	d := New(newStoreWithPattern(t, "injection"), NewClassifierPool(nil, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeBlock}
	res := d.Scan(context.Background(), "hello world", dest, false)
	assert.Equal(t, ActionPass, res.Action)
}

func TestDetector_Scan_StrictestModeWins_AIOverridesMonitor(t *testing.T) {
	// regex_mode: monitor matches; ai_mode: block fires with a high score.
	// Per spec scenario 7, arbitration must return the AI engine's block.
	d := New(newStoreWithPattern(t, "injection"), NewClassifierPool(&fakeClassifier{label: "INJECTION", score: 0.95}, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeMonitor, AIMode: config.ModeBlock}
	res := d.Scan(context.Background(), "try injection here", dest, false)
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, "ai", res.Engine)
}

func TestDetector_Scan_AISkippedWhenRegexAlreadyBlocked(t *testing.T) {
	classifier := &fakeClassifier{label: "INJECTION", score: 0.99}
	d := New(newStoreWithPattern(t, "injection"), NewClassifierPool(classifier, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeBlock, AIMode: config.ModeBlock}
	res := d.Scan(context.Background(), "try injection here", dest, false)
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, "regex", res.Engine, "AI pass must be skipped once regex already decided block")
}

func TestDetector_Scan_AIBelowThresholdPasses(t *testing.T) {
	d := New(newStoreWithPattern(t, "nomatch-pattern-xyz"), NewClassifierPool(&fakeClassifier{label: "INJECTION", score: 0.5}, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeOff, AIMode: config.ModeBlock}
	res := d.Scan(context.Background(), "hello world", dest, false)
	assert.Equal(t, ActionPass, res.Action)
}

func TestDetector_Scan_AIRedactReplacesEntireBody(t *testing.T) {
	d := New(newStoreWithPattern(t, "nomatch-pattern-xyz"), NewClassifierPool(&fakeClassifier{label: "INJECTION", score: 0.95}, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeOff, AIMode: config.ModeRedact}
	res := d.Scan(context.Background(), "some long body text", dest, false)
	assert.Equal(t, ActionRedact, res.Action)
	assert.Equal(t, "**REDACTED**", res.Body, "AI redaction replaces the whole body, unlike the surgical regex redaction")
}

func TestDetector_Scan_AISkippedWhenBodyExceedsMaxChars(t *testing.T) {
	d := New(newStoreWithPattern(t, "nomatch-pattern-xyz"), NewClassifierPool(&fakeClassifier{label: "INJECTION", score: 0.99}, 1), 0.85, 5)
	dest := &config.Destination{RegexMode: config.ModeOff, AIMode: config.ModeBlock}
	res := d.Scan(context.Background(), "this body is longer than five characters", dest, false)
	assert.Equal(t, ActionPass, res.Action)
}

func TestDetector_Scan_PerDestinationThresholdOverride(t *testing.T) {
	strict := 0.3
	d := New(newStoreWithPattern(t, "nomatch-pattern-xyz"), NewClassifierPool(&fakeClassifier{label: "INJECTION", score: 0.5}, 1), 0.85, 4000)
	dest := &config.Destination{RegexMode: config.ModeOff, AIMode: config.ModeBlock, AIThreshold: &strict}
	res := d.Scan(context.Background(), "hello world", dest, false)
	assert.Equal(t, ActionBlock, res.Action, "destination override threshold must be used instead of the global default")
}
