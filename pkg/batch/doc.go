// Package batch resolves related records for a list response in a bounded
// number of round trips.
//
// A handler that lists issues needs the assignee, reporter, sprint and
// workspace of every row. Instead of one lookup per row, the handler collects
// the foreign keys with IDs, schedules one Load per entity type on a Group
// and waits for all of them:
//
//	g := batch.NewGroup(ctx)
//	var users map[int64]*model.User
//	batch.Schedule(g, loaders.Users, batch.IDs(issues, reporter, assignee), &users)
//	var sprints map[int64]*model.Sprint
//	batch.Schedule(g, loaders.Sprints, batch.IDs(issues, sprint), &sprints)
//	if err := g.Wait(); err != nil {
//		return err
//	}
//
// Every load deduplicates its ids, drops zero ids and issues a single
// multi-get. Ids that do not resolve are absent from the result; callers
// render a fallback such as UserName.
//
// A Source whose store only reads one record at a time wraps its getter
// with OneByOne. The Loader still dedups and caches; the fetch fans out with
// FetchEach under a concurrency limit.
package batch
