package models

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"
)

// ============== ChangeRecord Tests ==============

func TestAction(t *testing.T) {
	tests := []struct {
		action   Action
		expected string
		valid    bool
	}{
		{ActionAdd, "ADD", true},
		{ActionUpdate, "UPDATE", true},
		{ActionRemove, "REMOVE", true},
		{Action("COPY"), "COPY", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			if string(tt.action) != tt.expected {
				t.Errorf("Action = %s, want %s", string(tt.action), tt.expected)
			}
			if tt.action.Valid() != tt.valid {
				t.Errorf("Valid() = %v, want %v", tt.action.Valid(), tt.valid)
			}
		})
	}
}

func TestChangeRecord(t *testing.T) {
	t.Run("Dir", func(t *testing.T) {
		rec := ChangeRecord{Action: ActionAdd, Path: "docs/guide/intro.md"}
		if rec.Dir() != "docs/guide" {
			t.Errorf("Dir() = %s, want docs/guide", rec.Dir())
		}

		top := ChangeRecord{Action: ActionAdd, Path: "README.md"}
		if top.Dir() != "." {
			t.Errorf("Dir() = %s, want .", top.Dir())
		}
	})

	t.Run("IsCopy", func(t *testing.T) {
		if !(ChangeRecord{Action: ActionAdd}).IsCopy() {
			t.Error("ADD should be a copy")
		}
		if !(ChangeRecord{Action: ActionUpdate}).IsCopy() {
			t.Error("UPDATE should be a copy")
		}
		if (ChangeRecord{Action: ActionRemove}).IsCopy() {
			t.Error("REMOVE should not be a copy")
		}
	})
}

func TestDirectionPriority(t *testing.T) {
	if DirectionPull.Priority() != PriorityRemote {
		t.Errorf("pull priority = %s, want REMOTE", DirectionPull.Priority())
	}
	if DirectionPush.Priority() != PriorityLocal {
		t.Errorf("push priority = %s, want LOCAL", DirectionPush.Priority())
	}
}

// ============== CycleOperation Tests ==============

func validOperation() *CycleOperation {
	return &CycleOperation{
		ID:          "op-1",
		Owner:       "acme",
		Repo:        "docs",
		Branch:      "main",
		ProjectPath: "/work/project",
		ScratchPath: "/tmp/scratch",
		Direction:   DirectionPull,
		MaxWorkers:  4,
		BufferSize:  65536,
		CreatedAt:   time.Now(),
	}
}

func TestCycleOperationValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		if err := validOperation().Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(op *CycleOperation)
		field  string
	}{
		{"MissingOwner", func(op *CycleOperation) { op.Owner = "" }, "Owner"},
		{"MissingRepo", func(op *CycleOperation) { op.Repo = "" }, "Repo"},
		{"MissingBranch", func(op *CycleOperation) { op.Branch = "" }, "Branch"},
		{"MissingProject", func(op *CycleOperation) { op.ProjectPath = "" }, "ProjectPath"},
		{"MissingScratch", func(op *CycleOperation) { op.ScratchPath = "" }, "ScratchPath"},
		{"BadDirection", func(op *CycleOperation) { op.Direction = "sideways" }, "Direction"},
		{"PushWithoutMessage", func(op *CycleOperation) { op.Direction = DirectionPush }, "CommitMessage"},
		{"ZeroWorkers", func(op *CycleOperation) { op.MaxWorkers = 0 }, "MaxWorkers"},
		{"SmallBuffer", func(op *CycleOperation) { op.BufferSize = 512 }, "BufferSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := validOperation()
			tt.mutate(op)
			err := op.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %s, want %s", verr.Field, tt.field)
			}
		})
	}

	t.Run("AnalyzeOnlyPushNeedsNoMessage", func(t *testing.T) {
		op := validOperation()
		op.Direction = DirectionPush
		op.AnalyzeOnly = true
		if err := op.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})
}

// ============== CycleReport Tests ==============

func TestCycleStatusExitCode(t *testing.T) {
	tests := []struct {
		status CycleStatus
		code   int
	}{
		{StatusSuccess, 0},
		{StatusPartial, 1},
		{StatusFailed, 2},
		{StatusCancelled, 3},
		{CycleStatus("unknown"), 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.ExitCode(); got != tt.code {
				t.Errorf("ExitCode() = %d, want %d", got, tt.code)
			}
		})
	}
}

func TestCountChanges(t *testing.T) {
	report := &CycleReport{
		Changes: []ChangeRecord{
			{Action: ActionAdd, Path: "a"},
			{Action: ActionAdd, Path: "b"},
			{Action: ActionUpdate, Path: "c"},
			{Action: ActionRemove, Path: "d"},
		},
	}
	report.CountChanges()

	if report.Stats.FilesAdded != 2 || report.Stats.FilesUpdated != 1 || report.Stats.FilesRemoved != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1",
			report.Stats.FilesAdded, report.Stats.FilesUpdated, report.Stats.FilesRemoved)
	}
}

// ============== Error Tests ==============

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     ErrorKind
		sentinel error
	}{
		{"IO", IOError("read", "a.txt", os.ErrClosed), KindIO, ErrIO},
		{"NotFound", NotFoundError("scan", "/missing", nil), KindNotFound, ErrNotFound},
		{"Parse", ParseError("load", "m.json", errors.New("missing metadata")), KindParse, ErrParse},
		{"Auth", &Error{Kind: KindAuth, Op: "probe", StatusCode: 401}, KindAuth, ErrAuth},
		{"Permission", &Error{Kind: KindPermission, Op: "probe", StatusCode: 403}, KindPermission, ErrPermission},
		{"Network", &Error{Kind: KindNetwork, Op: "get ref"}, KindNetwork, ErrNetwork},
		{"API", &Error{Kind: KindAPI, Op: "create tree", StatusCode: 422}, KindAPI, ErrAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("phase failed: %w", tt.err)
			if KindOf(wrapped) != tt.kind {
				t.Errorf("KindOf() = %s, want %s", KindOf(wrapped), tt.kind)
			}
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.sentinel)
			}
		})
	}

	t.Run("KindsAreDistinct", func(t *testing.T) {
		err := &Error{Kind: KindAuth, Op: "probe", StatusCode: 401}
		if errors.Is(err, ErrPermission) {
			t.Error("auth error should not match permission sentinel")
		}
	})

	t.Run("UnwrapKeepsCause", func(t *testing.T) {
		err := IOError("read", "a.txt", os.ErrPermission)
		if !errors.Is(err, os.ErrPermission) {
			t.Error("cause should be reachable through Unwrap")
		}
	})

	t.Run("StatusCode", func(t *testing.T) {
		err := fmt.Errorf("wrap: %w", &Error{Kind: KindAPI, Op: "update ref", StatusCode: 422})
		if StatusCodeOf(err) != 422 {
			t.Errorf("StatusCodeOf() = %d, want 422", StatusCodeOf(err))
		}
		if StatusCodeOf(errors.New("plain")) != 0 {
			t.Error("plain errors carry no status code")
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if KindOf(errors.New("plain")) != KindUnknown {
			t.Error("plain errors should be unknown")
		}
		if KindOf(nil) != "" {
			t.Error("nil error should have no kind")
		}
	})

	t.Run("Message", func(t *testing.T) {
		err := &Error{Kind: KindAPI, Op: "create blob", Path: "a.txt", StatusCode: 500, Err: errors.New("boom")}
		want := "create blob a.txt (status 500): boom"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})
}
