package session

import (
	"errors"
	"testing"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    Step
		action  Action
		want    Step
		illegal bool
	}{
		{from: StepStart, action: ActionRecognize, want: StepRecognized},
		{from: StepStart, action: ActionAspects, illegal: true},
		{from: StepStart, action: ActionPublish, illegal: true},
		{from: StepRecognized, action: ActionAspects, want: StepDescribed},
		{from: StepRecognized, action: ActionPublish, illegal: true},
		{from: StepRecognized, action: ActionRecognize, want: StepRecognized},
		{from: StepDescribed, action: ActionAspects, want: StepDescribed},
		{from: StepDescribed, action: ActionPublish, want: StepPublished},
		{from: StepPublished, action: ActionPublish, illegal: true},
		{from: StepPublished, action: ActionAspects, illegal: true},
		{from: StepPublished, action: ActionRecognize, want: StepRecognized},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, err := Next(tt.from, tt.action)
			if tt.illegal {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("err = %v, want ErrIllegalTransition", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Next() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextUnknownAction(t *testing.T) {
	_, err := Next(StepStart, Action("delete"))
	if err == nil || errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want unknown action error", err)
	}
}
