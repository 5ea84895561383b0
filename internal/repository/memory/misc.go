package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/hitoshi/forumd/internal/model"
)

type userRepo struct{ s *store }

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	st, release := r.s.acquire()
	defer release()
	u, ok := st.users[id]
	if !ok {
		return nil, nil
	}
	u.Permissions = slices.Clone(u.Permissions)
	return &u, nil
}

type profileRepo struct{ s *store }

func (r *profileRepo) Find(ctx context.Context, userID string) (*model.ForumUserProfile, error) {
	st, release := r.s.acquire()
	defer release()
	p, ok := st.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *profileRepo) FindOrCreateForUpdate(ctx context.Context, userID string) (*model.ForumUserProfile, error) {
	st, release := r.s.acquire()
	defer release()
	p, ok := st.profiles[userID]
	if !ok {
		p = model.ForumUserProfile{UserID: userID, NotifyOfReplyByDefault: true}
		st.profiles[userID] = p
	}
	return &p, nil
}

func (r *profileRepo) SetLastPostAt(ctx context.Context, userID string, at time.Time) error {
	st, release := r.s.acquire()
	defer release()
	p, ok := st.profiles[userID]
	if !ok {
		return nil
	}
	p.LastPostAt = &at
	st.profiles[userID] = p
	return nil
}

func (r *profileRepo) SaveSettings(ctx context.Context, userID string, notify bool) error {
	st, release := r.s.acquire()
	defer release()
	p, ok := st.profiles[userID]
	if !ok {
		p = model.ForumUserProfile{UserID: userID}
	}
	p.NotifyOfReplyByDefault = notify
	st.profiles[userID] = p
	return nil
}

type subscriptionRepo struct{ s *store }

func (r *subscriptionRepo) Upsert(ctx context.Context, sub *model.Subscription) error {
	if err := checkKind(sub.Kind); err != nil {
		return err
	}
	st, release := r.s.acquire()
	defer release()
	key := targetKey{sub.Kind, sub.UserID, sub.TargetID}
	row, ok := st.subscriptions[key]
	if !ok {
		row = *sub
	}
	row.Active = sub.Active
	row.UpdatedAt = sub.UpdatedAt
	st.subscriptions[key] = row
	return nil
}

func (r *subscriptionRepo) Find(ctx context.Context, kind model.TargetKind, userID, targetID string) (*model.Subscription, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	st, release := r.s.acquire()
	defer release()
	sub, ok := st.subscriptions[targetKey{kind, userID, targetID}]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (r *subscriptionRepo) ListActiveSubscriberIDs(ctx context.Context, kind model.TargetKind, targetID string) ([]string, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	st, release := r.s.acquire()
	defer release()
	var ids []string
	for key, sub := range st.subscriptions {
		if key.kind == kind && key.target == targetID && sub.Active {
			ids = append(ids, key.user)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *subscriptionRepo) ListActiveByUser(ctx context.Context, kind model.TargetKind, userID string) ([]*model.Subscription, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	st, release := r.s.acquire()
	defer release()
	var out []*model.Subscription
	for key, sub := range st.subscriptions {
		if key.kind == kind && key.user == userID && sub.Active {
			out = append(out, &sub)
		}
	}
	slices.SortFunc(out, func(a, b *model.Subscription) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), cmp.Compare(a.TargetID, b.TargetID))
	})
	return out, nil
}

type readMarkerRepo struct{ s *store }

func (r *readMarkerRepo) Upsert(ctx context.Context, m *model.ReadMarker) error {
	if err := checkKind(m.Kind); err != nil {
		return err
	}
	st, release := r.s.acquire()
	defer release()
	st.markers[targetKey{m.Kind, m.UserID, m.TargetID}] = *m
	return nil
}

func (r *readMarkerRepo) Find(ctx context.Context, kind model.TargetKind, userID, targetID string) (*model.ReadMarker, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}
	st, release := r.s.acquire()
	defer release()
	m, ok := st.markers[targetKey{kind, userID, targetID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *readMarkerRepo) Deactivate(ctx context.Context, kind model.TargetKind, userID, targetID string) error {
	if err := checkKind(kind); err != nil {
		return err
	}
	st, release := r.s.acquire()
	defer release()
	key := targetKey{kind, userID, targetID}
	if m, ok := st.markers[key]; ok {
		m.Active = false
		st.markers[key] = m
	}
	return nil
}

type strikeRepo struct{ s *store }

func (r *strikeRepo) Create(ctx context.Context, s *model.Strike) error {
	st, release := r.s.acquire()
	defer release()
	st.strikes[s.ID] = *s
	return nil
}

func (r *strikeRepo) FindActive(ctx context.Context, userID, ip *string, now time.Time) (*model.Strike, error) {
	st, release := r.s.acquire()
	defer release()
	var best *model.Strike
	for _, s := range st.strikes {
		matched := (userID != nil && s.TargetUserID != nil && *s.TargetUserID == *userID) ||
			(ip != nil && s.TargetIP != nil && *s.TargetIP == *ip)
		if !matched || !s.ActiveAt(now) {
			continue
		}
		if best == nil || cmp.Or(compareBoolDesc(s.BlockAccess, best.BlockAccess), best.CreatedAt.Compare(s.CreatedAt)) < 0 {
			best = &s
		}
	}
	return best, nil
}

type notificationRepo struct{ s *store }

func (r *notificationRepo) Create(ctx context.Context, n *model.Notification) (bool, error) {
	st, release := r.s.acquire()
	defer release()
	for _, row := range st.notifications {
		if !row.dismissed && row.RecipientID == n.RecipientID && row.DismissCode == n.DismissCode {
			return false, nil
		}
	}
	st.notifications = append(st.notifications, notificationRow{Notification: *n})
	return true, nil
}

func (r *notificationRepo) ListPending(ctx context.Context, recipientID string, limit int) ([]*model.Notification, error) {
	st, release := r.s.acquire()
	defer release()
	var out []*model.Notification
	for _, row := range st.notifications {
		if !row.dismissed && row.RecipientID == recipientID {
			n := row.Notification
			out = append(out, &n)
		}
	}
	slices.SortFunc(out, func(a, b *model.Notification) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return paginate(out, 0, limit), nil
}

func (r *notificationRepo) Dismiss(ctx context.Context, recipientID, dismissCode string, at time.Time) error {
	st, release := r.s.acquire()
	defer release()
	for i, row := range st.notifications {
		if !row.dismissed && row.RecipientID == recipientID && row.DismissCode == dismissCode {
			st.notifications[i].dismissed = true
		}
	}
	return nil
}
