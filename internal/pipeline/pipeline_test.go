package pipeline

import (
	"testing"

	"github.com/clawtown/clawtown/internal/taskstore"
)

func newTestPipeline(t *testing.T) (*Pipeline, *taskstore.Store) {
	t.Helper()
	store := taskstore.New(t.TempDir())
	return New(store), store
}

func TestClaimRequiresMatchingStage(t *testing.T) {
	p, store := newTestPipeline(t)
	task, err := store.Create("t", "", nil, "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := p.Claim(task.TNumber, "pm"); err == nil {
		t.Fatal("expected claim to fail: task has no stage yet")
	}

	stage := "pm"
	if _, _, err := store.Update(task.TNumber, taskstore.UpdateFields{Stage: &stage}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	claimed, err := p.Claim(task.TNumber, "pm")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Owner != "pm" || claimed.Status != taskstore.StatusInProgress {
		t.Errorf("claimed = %+v", claimed)
	}
}

func TestClaimRejectsAlreadyOwned(t *testing.T) {
	p, store := newTestPipeline(t)
	task, _ := store.Create("t", "", nil, "", "")
	stage := "pm"
	store.Update(task.TNumber, taskstore.UpdateFields{Stage: &stage})

	if _, err := p.Claim(task.TNumber, "pm"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := p.Claim(task.TNumber, "pm"); err == nil {
		t.Fatal("expected second claim to fail: already owned")
	}
}

func TestClaimRejectsUnknownRole(t *testing.T) {
	p, store := newTestPipeline(t)
	task, _ := store.Create("t", "", nil, "", "")
	if _, err := p.Claim(task.TNumber, "not-a-role"); err == nil {
		t.Fatal("expected validation error for unknown role")
	}
}

func TestReleaseAdvancesStageAndClosesAtDone(t *testing.T) {
	p, store := newTestPipeline(t)
	task, _ := store.Create("t", "", nil, "", "")

	stage := Stages[len(Stages)-2] // second to last, one step from "done"
	store.Update(task.TNumber, taskstore.UpdateFields{Stage: &stage})
	owner := "design-auditor"
	store.Update(task.TNumber, taskstore.UpdateFields{Owner: &owner})

	released, err := p.Release(task.TNumber)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Stage != "done" || released.Status != taskstore.StatusClosed {
		t.Errorf("released = %+v, want stage=done status=closed", released)
	}
	if released.Owner != "" {
		t.Errorf("owner = %q, want cleared", released.Owner)
	}
}

func TestReleaseRequiresOwner(t *testing.T) {
	p, store := newTestPipeline(t)
	task, _ := store.Create("t", "", nil, "", "")
	if _, err := p.Release(task.TNumber); err == nil {
		t.Fatal("expected release to fail: no owner")
	}
}

func TestStageMonotonicityUnderRelease(t *testing.T) {
	p, store := newTestPipeline(t)
	task, _ := store.Create("t", "", nil, "", "")
	stage := Stages[0]
	store.Update(task.TNumber, taskstore.UpdateFields{Stage: &stage})

	var seen []string
	for i := 0; i < len(Stages); i++ {
		owner := "x"
		store.Update(task.TNumber, taskstore.UpdateFields{Owner: &owner})
		released, err := p.Release(task.TNumber)
		if err != nil {
			break
		}
		seen = append(seen, released.Stage)
		if released.Status == taskstore.StatusClosed {
			break
		}
	}
	for i, stage := range seen {
		want := Stages[i+1]
		if stage != want {
			t.Fatalf("release sequence[%d] = %q, want %q (canonical prefix)", i, stage, want)
		}
	}
}

func TestRejectOnlyAlongAllowList(t *testing.T) {
	p, store := newTestPipeline(t)
	task, _ := store.Create("t", "", nil, "", "")
	stage := "code-review"
	store.Update(task.TNumber, taskstore.UpdateFields{Stage: &stage})

	if _, err := p.Reject(task.TNumber, "qa-test", "not allowed"); err == nil {
		t.Fatal("expected reject to fail: qa-test not in code-review's allow-list")
	}

	rejected, err := p.Reject(task.TNumber, "intern", "needs rework")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Stage != "intern" || rejected.Status != taskstore.StatusOpen || rejected.Owner != "" {
		t.Errorf("rejected = %+v", rejected)
	}
	if len(rejected.Comments) != 1 || rejected.Comments[0].Prefix != "REJECTED" {
		t.Errorf("comments = %+v, want one REJECTED comment", rejected.Comments)
	}
}

func TestRejectForwardIsIllegal(t *testing.T) {
	p, store := newTestPipeline(t)
	task, _ := store.Create("t", "", nil, "", "")
	stage := "intern"
	store.Update(task.TNumber, taskstore.UpdateFields{Stage: &stage})

	if _, err := p.Reject(task.TNumber, "code-review", "wrong direction"); err == nil {
		t.Fatal("expected reject to fail: code-review is not before intern")
	}
}

func TestSetStageClearsOwner(t *testing.T) {
	p, store := newTestPipeline(t)
	task, _ := store.Create("t", "", nil, "", "")
	owner := "pm"
	store.Update(task.TNumber, taskstore.UpdateFields{Owner: &owner})

	updated, err := p.SetStage(task.TNumber, "qa-test")
	if err != nil {
		t.Fatalf("SetStage: %v", err)
	}
	if updated.Stage != "qa-test" || updated.Owner != "" {
		t.Errorf("updated = %+v, want stage=qa-test owner cleared", updated)
	}
}
