package presence

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"presenceboard/pkg/types"
)

// fakeDirectory serves canned profiles or a fixed error.
type fakeDirectory struct {
	profiles map[string]types.Profile
	err      error
	gotIDs   []string
}

func (d *fakeDirectory) Profiles(ctx context.Context, userIDs []string) (map[string]types.Profile, error) {
	d.gotIDs = userIDs
	if d.err != nil {
		return nil, d.err
	}
	return d.profiles, nil
}

func TestRoster_EmptyRegistry(t *testing.T) {
	registry := NewRegistry()
	dir := &fakeDirectory{}
	roster := NewRoster(registry, dir, zap.NewNop())

	teachers := roster.OnlineTeachers(context.Background())

	if teachers == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(teachers) != 0 {
		t.Errorf("expected 0 teachers, got %d", len(teachers))
	}
	if d := dir.gotIDs; d != nil {
		t.Error("directory should not be queried for an empty roster")
	}
}

func TestRoster_DirectoryOverridesCachedMetadata(t *testing.T) {
	registry := NewRegistry()
	registry.nowMillis = fakeClock()
	registry.Upsert("t1", "Stale Name", strPtr("Old Dept"), nil)

	dir := &fakeDirectory{profiles: map[string]types.Profile{
		"t1": {
			UserID:      "t1",
			FullName:    "Ada",
			Department:  strPtr("CS"),
			Designation: strPtr("Professor"),
			Role:        types.RoleTeacher,
		},
	}}
	roster := NewRoster(registry, dir, zap.NewNop())

	teachers := roster.OnlineTeachers(context.Background())

	if len(teachers) != 1 {
		t.Fatalf("expected 1 teacher, got %d", len(teachers))
	}
	got := teachers[0]
	if got.FullName != "Ada" {
		t.Errorf("directory name should override cache, got %q", got.FullName)
	}
	if got.Department == nil || *got.Department != "CS" {
		t.Errorf("directory department should override cache, got %v", got.Department)
	}
	if got.Designation == nil || *got.Designation != "Professor" {
		t.Errorf("expected designation from directory, got %v", got.Designation)
	}
	if got.LastSeen == 0 {
		t.Error("LastSeen should come from the presence entry")
	}
}

func TestRoster_FallsBackToCacheWhenDirectoryFails(t *testing.T) {
	registry := NewRegistry()
	registry.nowMillis = fakeClock()
	registry.Upsert("t1", "Cached Name", strPtr("Cached Dept"), nil)

	dir := &fakeDirectory{err: errors.New("directory down")}
	roster := NewRoster(registry, dir, zap.NewNop())

	teachers := roster.OnlineTeachers(context.Background())

	if len(teachers) != 1 {
		t.Fatalf("expected 1 teacher, got %d", len(teachers))
	}
	if teachers[0].FullName != "Cached Name" {
		t.Errorf("expected cached name on directory failure, got %q", teachers[0].FullName)
	}
	if teachers[0].Department == nil || *teachers[0].Department != "Cached Dept" {
		t.Errorf("expected cached department, got %v", teachers[0].Department)
	}
}

func TestRoster_UnresolvedIdentityKeepsCachedValues(t *testing.T) {
	registry := NewRegistry()
	registry.nowMillis = fakeClock()
	registry.Upsert("t1", "Cached", nil, nil)
	registry.Upsert("t2", "Also Cached", nil, nil)

	// Directory resolves only t1.
	dir := &fakeDirectory{profiles: map[string]types.Profile{
		"t1": {UserID: "t1", FullName: "Fresh", Role: types.RoleTeacher},
	}}
	roster := NewRoster(registry, dir, zap.NewNop())

	teachers := roster.OnlineTeachers(context.Background())

	if len(teachers) != 2 {
		t.Fatalf("expected 2 teachers, got %d", len(teachers))
	}

	byID := make(map[string]types.TeacherInfo)
	for _, teacher := range teachers {
		byID[teacher.UserID] = teacher
	}
	if byID["t1"].FullName != "Fresh" {
		t.Errorf("resolved identity should use directory name, got %q", byID["t1"].FullName)
	}
	if byID["t2"].FullName != "Also Cached" {
		t.Errorf("unresolved identity should keep cached name, got %q", byID["t2"].FullName)
	}
	if len(dir.gotIDs) != 2 {
		t.Errorf("expected batch lookup for 2 ids, got %d", len(dir.gotIDs))
	}
}
