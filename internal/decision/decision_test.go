package decision

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func records(n int) []domain.TransactionRecord {
	recs := make([]domain.TransactionRecord, n)
	for i := range recs {
		recs[i] = domain.NewTransactionRecord(i, []float64{float64(i)})
	}
	return recs
}

func TestValidateThreshold(t *testing.T) {
	valid := []float64{0.0001, 0.1, 0.5, 0.9999}
	for _, v := range valid {
		if err := ValidateThreshold(v); err != nil {
			t.Errorf("threshold %v should be valid: %v", v, err)
		}
	}

	invalid := []float64{0, 1, -0.1, 1.5, math.NaN(), math.Inf(1)}
	for _, v := range invalid {
		err := ValidateThreshold(v)
		var thrErr *domain.InvalidThresholdError
		if !errors.As(err, &thrErr) {
			t.Errorf("threshold %v: expected InvalidThresholdError, got %v", v, err)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Run("AtThreshold", func(t *testing.T) {
		label, err := Classify(0.5, 0.5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if label != domain.LabelFraud {
			t.Errorf("p == t should be fraud, got %d", label)
		}
	})

	t.Run("ZeroRecordExample", func(t *testing.T) {
		// sigmoid(-2)
		p := 1 / (1 + math.Exp(2))

		label, _ := Classify(p, 0.5)
		if label != domain.LabelLegit {
			t.Errorf("expected 0 at threshold 0.5, got %d", label)
		}

		label, _ = Classify(p, 0.1)
		if label != domain.LabelFraud {
			t.Errorf("expected 1 at threshold 0.1, got %d", label)
		}
	})

	t.Run("InvalidThreshold", func(t *testing.T) {
		if _, err := Classify(0.3, 1); err == nil {
			t.Error("expected error for threshold 1")
		}
	})
}

func TestApply(t *testing.T) {
	recs := records(4)
	probs := []float64{0.05, 0.6, 0.5, 0.99}

	scored, err := Apply(recs, probs, 0.5)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	wantLabels := []domain.Label{0, 1, 1, 1}
	for i, st := range scored {
		if st.Index() != i {
			t.Errorf("row %d: index %d", i, st.Index())
		}
		if st.Label != wantLabels[i] {
			t.Errorf("row %d: expected label %d, got %d", i, wantLabels[i], st.Label)
		}
		if st.Threshold != 0.5 {
			t.Errorf("row %d: threshold not recorded", i)
		}
	}
}

func TestApplyRejectsBeforeTouchingData(t *testing.T) {
	// mismatched lengths would also fail, threshold must be reported first
	_, err := Apply(records(2), []float64{0.1}, 0)

	var thrErr *domain.InvalidThresholdError
	if !errors.As(err, &thrErr) {
		t.Fatalf("expected InvalidThresholdError, got %v", err)
	}

	_, err = Apply(records(2), []float64{0.1}, 0.5)
	var dimErr *domain.DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
}

func TestMonotonicity(t *testing.T) {
	probs := []float64{0.01, 0.2, 0.2, 0.35, 0.5, 0.51, 0.77, 0.9, 0.999}
	recs := records(len(probs))

	prev := len(probs) + 1
	for _, thr := range []float64{0.01, 0.1, 0.2, 0.3, 0.5, 0.6, 0.8, 0.95, 0.999} {
		scored, err := Apply(recs, probs, thr)
		if err != nil {
			t.Fatalf("Apply(%v) failed: %v", thr, err)
		}
		flagged := Summarize(scored).Flagged
		if flagged > prev {
			t.Errorf("raising threshold to %v raised flagged count from %d to %d", thr, prev, flagged)
		}
		prev = flagged
	}
}

func TestSummarize(t *testing.T) {
	scored, _ := Apply(records(4), []float64{0.9, 0.1, 0.8, 0.2}, 0.5)

	s := Summarize(scored)
	if s.Total != 4 || s.Flagged != 2 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.FlaggedPercent != 50 {
		t.Errorf("expected 50%%, got %v", s.FlaggedPercent)
	}
	if s.Threshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", s.Threshold)
	}

	if empty := Summarize(nil); empty.Total != 0 || empty.FlaggedPercent != 0 {
		t.Errorf("unexpected empty summary: %+v", empty)
	}
}

func TestFlagged(t *testing.T) {
	scored, _ := Apply(records(4), []float64{0.9, 0.1, 0.8, 0.2}, 0.5)

	flagged := Flagged(scored)
	if len(flagged) != 2 {
		t.Fatalf("expected 2 flagged, got %d", len(flagged))
	}
	if flagged[0].Index() != 0 || flagged[1].Index() != 2 {
		t.Errorf("flagged rows out of input order: %d, %d", flagged[0].Index(), flagged[1].Index())
	}
}
