// Package issues serves issue reads. Every call asserts viewer access on the
// owning workspace before any issue data is returned, then enriches rows
// through batch loaders so a list costs one query per related entity type.
package issues

import (
	"context"

	"github.com/platinummonkey/trellis/pkg/access"
	"github.com/platinummonkey/trellis/pkg/batch"
	"github.com/platinummonkey/trellis/pkg/model"
	"github.com/platinummonkey/trellis/pkg/roles"
)

// Store reads issues.
type Store interface {
	// GetIssue returns the issue whether or not it is soft-deleted, or nil.
	GetIssue(ctx context.Context, issueID int64) (*model.Issue, error)
	// ListIssues returns the live issues of a workspace.
	ListIssues(ctx context.Context, workspaceID int64) ([]*model.Issue, error)
}

// WorkspaceRef is the workspace projection attached to an issue.
type WorkspaceRef struct {
	ID   int64  `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// SprintRef is the sprint projection attached to an issue.
type SprintRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// View is an issue with its related records resolved. Assignee and Sprint
// are nil when unset or no longer resolvable; Reporter always renders, with
// model.UnknownUserName when the user is gone.
type View struct {
	*model.Issue
	Assignee  *model.UserSummary `json:"assignee,omitempty"`
	Reporter  *model.UserSummary `json:"reporter"`
	Sprint    *SprintRef         `json:"sprint,omitempty"`
	Workspace *WorkspaceRef      `json:"workspace,omitempty"`
}

type Service struct {
	store   Store
	loaders *batch.Loaders
}

// NewService creates a service reading issues from store and related records
// through loaders.
func NewService(store Store, loaders *batch.Loaders) *Service {
	return &Service{store: store, loaders: loaders}
}

// ListWorkspaceIssues returns the live issues of a workspace, enriched.
func (s *Service) ListWorkspaceIssues(ctx context.Context, sess *access.Session, workspaceID int64) ([]*View, error) {
	if _, err := sess.AssertMinimumRole(ctx, workspaceID, roles.WorkspaceViewer); err != nil {
		return nil, err
	}

	list, err := s.store.ListIssues(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, list)
}

// GetIssue returns one issue. A missing or soft-deleted issue is NotFound;
// the deleted check runs after the access check so the trash does not leak
// to callers without access.
func (s *Service) GetIssue(ctx context.Context, sess *access.Session, issueID int64) (*View, error) {
	issue, err := s.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, access.NotFound("issue", issueID)
	}

	if _, err := sess.AssertMinimumRole(ctx, issue.WorkspaceID, roles.WorkspaceViewer); err != nil {
		return nil, err
	}
	if issue.IsDeleted() {
		return nil, access.NotFound("issue", issueID)
	}

	views, err := s.enrich(ctx, []*model.Issue{issue})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func (s *Service) enrich(ctx context.Context, list []*model.Issue) ([]*View, error) {
	views := make([]*View, len(list))
	if len(list) == 0 {
		return views, nil
	}

	var (
		users      map[int64]*model.User
		sprints    map[int64]*model.Sprint
		workspaces map[int64]*model.Workspace
	)
	g := batch.NewGroup(ctx)
	batch.Schedule(g, s.loaders.Users, batch.IDs(list,
		func(i *model.Issue) int64 { return i.ReporterID },
		func(i *model.Issue) int64 { return batch.Deref(i.AssigneeID) },
	), &users)
	batch.Schedule(g, s.loaders.Sprints, batch.IDs(list,
		func(i *model.Issue) int64 { return batch.Deref(i.SprintID) },
	), &sprints)
	batch.Schedule(g, s.loaders.Workspaces, batch.IDs(list,
		func(i *model.Issue) int64 { return i.WorkspaceID },
	), &workspaces)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, issue := range list {
		v := &View{
			Issue:    issue,
			Reporter: reporter(users, issue.ReporterID),
		}
		if issue.AssigneeID != nil {
			v.Assignee = users[*issue.AssigneeID].Summarize()
		}
		if issue.SprintID != nil {
			if sp, ok := sprints[*issue.SprintID]; ok {
				v.Sprint = &SprintRef{ID: sp.ID, Name: sp.Name}
			}
		}
		if ws, ok := workspaces[issue.WorkspaceID]; ok {
			v.Workspace = &WorkspaceRef{ID: ws.ID, Key: ws.Key, Name: ws.Name}
		}
		views[i] = v
	}
	return views, nil
}

func reporter(users map[int64]*model.User, id int64) *model.UserSummary {
	if u, ok := users[id]; ok {
		return u.Summarize()
	}
	return &model.UserSummary{ID: id, Name: batch.UserName(users, id)}
}
