package zfs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/zfs2cloud/pkg/runner/runnertest"
)

const listOutput = "data/test@20200517121005\tSun May 17 12:10 2020\n" +
	"data/test@20200516121005\tSat May 16 12:10 2020\n" +
	"data/test@20200515121005\tFri May 15 12:10 2020\n"

func TestParseList(t *testing.T) {
	snapshots, err := ParseList(listOutput)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snapshots))
	}
	if snapshots[0].Name != "data/test@20200517121005" {
		t.Errorf("unexpected newest snapshot %s", snapshots[0].Name)
	}
	want := time.Date(2020, 5, 17, 12, 10, 0, 0, time.Local)
	if !snapshots[0].Creation.Equal(want) {
		t.Errorf("expected creation %v, got %v", want, snapshots[0].Creation)
	}
	if snapshots[2].Filesystem() != "data/test" {
		t.Errorf("unexpected filesystem %s", snapshots[2].Filesystem())
	}
}

func TestParseList_SingleDigitDay(t *testing.T) {
	snapshots, err := ParseList("tank/home@20200105010203\tSun Jan  5 01:02 2020")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshots[0].Creation.Day() != 5 {
		t.Errorf("expected day 5, got %d", snapshots[0].Creation.Day())
	}
}

func TestParseList_Empty(t *testing.T) {
	for _, in := range []string{"", "\n", "  \n"} {
		snapshots, err := ParseList(in)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", in, err)
		}
		if len(snapshots) != 0 {
			t.Errorf("expected no snapshots for %q, got %v", in, snapshots)
		}
	}
}

func TestParseList_ProtocolErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
	}{
		{"One column", "data/test@20200517121005"},
		{"Three columns", "data/test@20200517121005\tSun May 17 12:10 2020\textra"},
		{"Bad time", "data/test@20200517121005\tyesterday"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseList(tc.input)
			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("expected *ProtocolError, got %v", err)
			}
		})
	}
}

func TestClient_List(t *testing.T) {
	fake := runnertest.New()
	fake.Outputs["zfs list"] = listOutput
	client := NewClient(fake, "")

	snapshots, err := client.List(context.Background(), "data/test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snapshots) != 3 {
		t.Errorf("expected 3 snapshots, got %d", len(snapshots))
	}

	want := "zfs list -H -t snapshot -o name,creation -S creation -d1 data/test"
	if lines := fake.Lines(); len(lines) != 1 || lines[0] != want {
		t.Errorf("expected %q, got %v", want, lines)
	}
}

func TestClient_ListFailure(t *testing.T) {
	fake := runnertest.New()
	fake.Errors["zfs list"] = errors.New("dataset does not exist")
	client := NewClient(fake, "zfs")

	_, err := client.List(context.Background(), "data/missing")
	if err == nil || !strings.Contains(err.Error(), "dataset does not exist") {
		t.Errorf("expected listing failure to propagate, got %v", err)
	}
}

func TestCommands(t *testing.T) {
	client := NewClient(runnertest.New(), "/sbin/zfs")

	testCases := []struct {
		name string
		got  string
		want string
	}{
		{"Create", client.CreateCmd("data/test@20200517121005").String(), "/sbin/zfs snapshot data/test@20200517121005"},
		{"Destroy", client.DestroyCmd("data/test@20200517121005").String(), "/sbin/zfs destroy data/test@20200517121005"},
		{"Full send", client.SendCmd("data/test@2", "").String(), "/sbin/zfs send data/test@2"},
		{"Incremental send", client.SendCmd("data/test@2", "data/test@1").String(), "/sbin/zfs send -i data/test@1 data/test@2"},
		{"Recv", client.RecvCmd("data/restored").String(), "/sbin/zfs recv data/restored"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, tc.got)
			}
		})
	}
}

func TestSnapshotName(t *testing.T) {
	at := time.Date(2020, 5, 15, 12, 10, 5, 0, time.Local)
	if got := SnapshotName("data/test", at); got != "data/test@20200515121005" {
		t.Errorf("unexpected name %s", got)
	}
}

func TestExecute_DryRun(t *testing.T) {
	fake := runnertest.New()
	client := NewClient(fake, "zfs")

	if err := client.Execute(context.Background(), client.CreateCmd("data/test@1"), true); err != nil {
		t.Fatal(err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("expected no calls in dry run, got %v", fake.Lines())
	}

	if err := client.Execute(context.Background(), client.CreateCmd("data/test@1"), false); err != nil {
		t.Fatal(err)
	}
	if len(fake.Calls()) != 1 {
		t.Errorf("expected one call, got %v", fake.Lines())
	}
}
