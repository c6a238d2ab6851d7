package presence

import (
	"context"

	"go.uber.org/zap"

	"presenceboard/pkg/interfaces"
	"presenceboard/pkg/types"
)

// Roster assembles the teachers_online payload: the current presence
// snapshot refreshed with the latest directory metadata. Both the websocket
// query and the HTTP query endpoint serve the same roster.
type Roster struct {
	registry  *Registry
	directory interfaces.ProfileDirectory
	logger    *zap.Logger
}

// NewRoster creates a roster reader over the given registry and directory.
func NewRoster(registry *Registry, directory interfaces.ProfileDirectory, logger *zap.Logger) *Roster {
	return &Roster{
		registry:  registry,
		directory: directory,
		logger:    logger,
	}
}

// OnlineTeachers returns the current roster. Directory values override the
// cached presence metadata; when the directory returns nothing (unresolved
// identity, unavailable service) the cached values stand. The result is
// never nil.
func (r *Roster) OnlineTeachers(ctx context.Context) []types.TeacherInfo {
	entries := r.registry.Snapshot()
	teachers := make([]types.TeacherInfo, 0, len(entries))
	if len(entries) == 0 {
		return teachers
	}

	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.UserID
	}

	profiles, err := r.directory.Profiles(ctx, ids)
	if err != nil {
		r.logger.Warn("roster refresh failed, serving cached metadata", zap.Error(err))
		profiles = nil
	}

	for _, entry := range entries {
		info := types.TeacherInfo{
			UserID:      entry.UserID,
			FullName:    entry.FullName,
			Department:  entry.Department,
			Designation: entry.Designation,
			LastSeen:    entry.LastSeen,
		}

		if profile, exists := profiles[entry.UserID]; exists {
			if profile.FullName != "" {
				info.FullName = profile.FullName
			}
			if profile.Department != nil {
				info.Department = profile.Department
			}
			if profile.Designation != nil {
				info.Designation = profile.Designation
			}
		}

		teachers = append(teachers, info)
	}

	return teachers
}
