package license

import (
	"context"
	"sort"

	"github.com/pilotauth/pilot/internal/keygen"
	"github.com/pilotauth/pilot/internal/model"
	"github.com/pilotauth/pilot/internal/store"
	"github.com/pilotauth/pilot/internal/validate"
)

// ListApplicationsForUser returns the keys of the applications owned by
// username, sorted. It reads the per-user index and falls back to scanning
// for the application key shape when the index is empty, which covers
// records written before the index existed. Once a user has any indexed
// application, unindexed ones are no longer listed here; ListKeysForUsername
// still finds them.
func (s *Service) ListApplicationsForUser(ctx context.Context, customerKey, username string) (keys []string, err error) {
	defer s.observe("list_applications", &err)

	if err := s.Authorize(ctx, customerKey); err != nil {
		return nil, err
	}
	// The username becomes part of a scan pattern, so it must not carry
	// glob metacharacters.
	if !validate.Username(username) {
		return nil, badRequest(msgInvalidUsername)
	}

	keys, err = s.store.IndexMembers(ctx, store.UserIndex(username))
	if err != nil {
		return nil, storeError(err)
	}
	if len(keys) == 0 {
		keys, err = s.store.Scan(ctx, keygen.AppKeyPrefix+"[A-Z]*-"+username)
		if err != nil {
			return nil, storeError(err)
		}
	}
	if keys == nil {
		keys = []string{}
	}
	sort.Strings(keys)
	return keys, nil
}

// ListKeysForUsername returns one page of the record keys ending in
// "-<username>". Pages are numbered from 1; lower values read page 1.
func (s *Service) ListKeysForUsername(ctx context.Context, customerKey, username string, page int) (p model.Page, err error) {
	defer s.observe("list_keys", &err)

	if err := s.Authorize(ctx, customerKey); err != nil {
		return model.Page{}, err
	}
	if !validate.Username(username) {
		return model.Page{}, badRequest(msgInvalidUsername)
	}

	keys, err := s.store.Scan(ctx, "*-"+username)
	if err != nil {
		return model.Page{}, storeError(err)
	}
	sort.Strings(keys)
	return paginate(keys, page, s.cfg.PageSize), nil
}

func paginate(keys []string, page, size int) model.Page {
	if page < 1 {
		page = 1
	}
	p := model.Page{Page: page, PageSize: size, Total: len(keys), Items: []string{}}
	if size < 1 || page-1 >= (len(keys)+size-1)/size {
		return p
	}
	start := (page - 1) * size
	end := start + size
	if end > len(keys) {
		end = len(keys)
	}
	p.Items = append(p.Items, keys[start:end]...)
	return p
}
