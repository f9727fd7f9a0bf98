package detector

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"
)

// Classifier is the opaque AI scoring capability the detector depends on,
// per spec §9's "thread-pool-backed classifier becomes a capability
// interface" redesign note. Inference errors are handled by the caller, not
// the implementation, so a bad single call never takes down the process.
type Classifier interface {
	Classify(ctx context.Context, text string) (label string, score float64, err error)
}

// ClassifierPool bounds concurrent AI inference so it never blocks the HTTP
// event loop, using golang.org/x/sync/semaphore exactly as a bounded worker
// pool. Grounded on original_source/detector.py's ThreadPoolExecutor(
// max_workers=AI_MAX_WORKERS).
type ClassifierPool struct {
	classifier Classifier
	sem        *semaphore.Weighted
}

// NewClassifierPool builds a pool with maxWorkers concurrent slots. A nil
// classifier disables the AI engine silently, matching "classifier
// import/load failure disables the AI engine silently".
func NewClassifierPool(classifier Classifier, maxWorkers int) *ClassifierPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &ClassifierPool{classifier: classifier, sem: semaphore.NewWeighted(int64(maxWorkers))}
}

// Available reports whether an AI classifier is configured.
func (p *ClassifierPool) Available() bool {
	return p != nil && p.classifier != nil
}

// InjectionScore offloads classification and normalizes the result into a
// single injection_score per spec §4.4: INJECTION label => score, any other
// label => 1 - score. Inference errors fail open (score 0).
func (p *ClassifierPool) InjectionScore(ctx context.Context, text string) float64 {
	if !p.Available() {
		return 0
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return 0
	}
	defer p.sem.Release(1)

	label, score, err := p.classifier.Classify(ctx, text)
	if err != nil {
		return 0
	}
	if strings.Contains(strings.ToUpper(label), "INJECTION") {
		return score
	}
	return 1 - score
}

// scoreDetail formats the audit-log detail string for an AI-engine decision.
func scoreDetail(score float64) string {
	return fmt.Sprintf("score=%.3f", score)
}
