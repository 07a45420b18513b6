package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// defaultTags are seeded for every user
var defaultTags = []types.Tag{
	{IMAPLabel: "$label1", DisplayName: "Important", Color: "#FF7A66", IsDefault: true},
	{IMAPLabel: "$label2", DisplayName: "Work", Color: "#31CC7C", IsDefault: true},
	{IMAPLabel: "$label3", DisplayName: "Personal", Color: "#A85BF7", IsDefault: true},
	{IMAPLabel: "$label4", DisplayName: "To Do", Color: "#317CCC", IsDefault: true},
	{IMAPLabel: "$label5", DisplayName: "Later", Color: "#B4A443", IsDefault: true},
}

// nonTagKeywords are custom keywords with a protocol meaning of their own
var nonTagKeywords = map[string]bool{
	"$junk":          true,
	"$notjunk":       true,
	"junk":           true,
	"notjunk":        true,
	"nonjunk":        true,
	"$mdnsent":       true,
	"$forwarded":     true,
	"$phishing":      true,
	"$submitpending": true,
	"$submitted":     true,
}

// IsTagLabel reports whether a message flag is a user tag label: a keyword
// that is neither a system flag nor a reserved keyword
func IsTagLabel(flag string) bool {
	if flag == "" || strings.HasPrefix(flag, "\\") {
		return false
	}
	return !nonTagKeywords[strings.ToLower(flag)]
}

type tagRow struct {
	ID          int64  `db:"id"`
	UserID      string `db:"user_id"`
	IMAPLabel   string `db:"imap_label"`
	DisplayName string `db:"display_name"`
	Color       string `db:"color"`
	IsDefault   bool   `db:"is_default"`
}

func (r tagRow) toTag() types.Tag {
	return types.Tag{
		ID:          r.ID,
		UserID:      r.UserID,
		IMAPLabel:   r.IMAPLabel,
		DisplayName: r.DisplayName,
		Color:       r.Color,
		IsDefault:   r.IsDefault,
	}
}

const tagColumns = `t.id, t.user_id, t.imap_label, t.display_name, t.color, t.is_default`

// EnsureDefaultTags seeds the default tag set for a user
func (s *Store) EnsureDefaultTags(ctx context.Context, userID string) error {
	for _, tag := range defaultTags {
		_, err := s.cache.DB().ExecContext(ctx, `
			INSERT INTO tags (user_id, imap_label, display_name, color, is_default)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id, imap_label) DO NOTHING`,
			userID, tag.IMAPLabel, tag.DisplayName, tag.Color, tag.IsDefault)
		if err != nil {
			return fmt.Errorf("failed to seed tag %s: %w", tag.IMAPLabel, err)
		}
	}
	return nil
}

// GetTagByLabel returns a user's tag by protocol label, ignoring case
func (s *Store) GetTagByLabel(ctx context.Context, userID, label string) (*types.Tag, error) {
	var row tagRow
	err := s.cache.DB().GetContext(ctx, &row,
		"SELECT "+tagColumns+" FROM tags t WHERE t.user_id = ? AND t.imap_label = ?", userID, label)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tag %s: %w", label, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	tag := row.toTag()
	return &tag, nil
}

// TagMessage associates tag with the protocol message identifier of message,
// creating the tag for userID first when it does not exist yet. The label is
// added to the cached flags of message so later syncs of other copies keep
// the association.
func (s *Store) TagMessage(ctx context.Context, tag *types.Tag, message *types.Message, userID string) error {
	tx, err := s.cache.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	display := tag.DisplayName
	if display == "" {
		display = tag.IMAPLabel
	}
	tagID, err := getOrCreateTag(ctx, tx, userID, tag.IMAPLabel, display, tag.Color)
	if err != nil {
		return err
	}
	if err := associateTag(ctx, tx, message.MessageID, tagID); err != nil {
		return err
	}
	if err := setCachedFlag(ctx, tx, message.MailboxID, message.UID, tag.IMAPLabel, true); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tag: %w", err)
	}
	tag.ID = tagID
	tag.UserID = userID
	return nil
}

// UntagMessage clears the label from the cached flags of message. The
// association with the user's tag goes away unless another cached copy of
// the message still carries the label.
func (s *Store) UntagMessage(ctx context.Context, tag *types.Tag, message *types.Message, userID string) error {
	tx, err := s.cache.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := setCachedFlag(ctx, tx, message.MailboxID, message.UID, tag.IMAPLabel, false); err != nil {
		return err
	}
	keep, err := cachedTagLabels(ctx, tx, userID, message.MessageID)
	if err != nil {
		return err
	}
	if _, ok := keep[strings.ToLower(tag.IMAPLabel)]; !ok {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM message_tags
			WHERE imap_message_id = ?
			AND tag_id IN (SELECT id FROM tags WHERE user_id = ? AND imap_label = ?)`,
			message.MessageID, userID, tag.IMAPLabel)
		if err != nil {
			return fmt.Errorf("failed to untag message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit untag: %w", err)
	}
	return nil
}

// FindTagsForMessages loads a user's tags for the given protocol message
// identifiers, keyed by identifier
func (s *Store) FindTagsForMessages(ctx context.Context, userID string, messageIDs []string) (map[string][]types.Tag, error) {
	result := make(map[string][]types.Tag)
	if len(messageIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`
		SELECT mt.imap_message_id, `+tagColumns+`
		FROM message_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE t.user_id = ? AND mt.imap_message_id IN (?)
		ORDER BY t.imap_label`, userID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build tag query: %w", err)
	}

	var rows []struct {
		MessageID string `db:"imap_message_id"`
		tagRow
	}
	db := s.cache.DB()
	if err := db.SelectContext(ctx, &rows, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query message tags: %w", err)
	}
	for _, r := range rows {
		result[r.MessageID] = append(result[r.MessageID], r.tagRow.toTag())
	}
	return result, nil
}

// AttachTags fills the Tags field of each message for userID
func (s *Store) AttachTags(ctx context.Context, userID string, messages []*types.Message) error {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.MessageID != "" {
			ids = append(ids, m.MessageID)
		}
	}
	tags, err := s.FindTagsForMessages(ctx, userID, ids)
	if err != nil {
		return err
	}
	for _, m := range messages {
		m.Tags = tags[m.MessageID]
	}
	return nil
}

func getOrCreateTag(ctx context.Context, tx *sqlx.Tx, userID, label, displayName, color string) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id, `
		INSERT INTO tags (user_id, imap_label, display_name, color)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, imap_label) DO UPDATE SET imap_label = imap_label
		RETURNING id`, userID, label, displayName, color)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve tag %s: %w", label, err)
	}
	return id, nil
}

func associateTag(ctx context.Context, tx *sqlx.Tx, messageID string, tagID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO message_tags (imap_message_id, tag_id) VALUES (?, ?)
		ON CONFLICT(imap_message_id, tag_id) DO NOTHING`, messageID, tagID)
	if err != nil {
		return fmt.Errorf("failed to associate tag: %w", err)
	}
	return nil
}

// cachedTagLabels collects the tag labels carried by any cached copy of
// messageID in the user's accounts, keyed by lower-cased label
func cachedTagLabels(ctx context.Context, tx *sqlx.Tx, userID, messageID string) (map[string]string, error) {
	var encoded []string
	if err := tx.SelectContext(ctx, &encoded, `
		SELECT m.flags FROM messages m
		JOIN mailboxes mb ON mb.id = m.mailbox_id
		JOIN accounts a ON a.id = mb.account_id
		WHERE m.message_id = ? AND a.user_id = ?
		ORDER BY m.id`, messageID, userID); err != nil {
		return nil, fmt.Errorf("failed to load cached flags of %s: %w", messageID, err)
	}

	labels := make(map[string]string)
	for _, raw := range encoded {
		flags, err := decodeFlags(raw)
		if err != nil {
			return nil, err
		}
		for _, f := range flags {
			if !IsTagLabel(f) {
				continue
			}
			if _, ok := labels[strings.ToLower(f)]; !ok {
				labels[strings.ToLower(f)] = f
			}
		}
	}
	return labels, nil
}

// reconcileTags makes the user's tag associations of messageID match the
// tag labels of every cached copy of the message. A label is dropped only
// when no copy carries it anymore.
func reconcileTags(ctx context.Context, tx *sqlx.Tx, userID, messageID string) error {
	want, err := cachedTagLabels(ctx, tx, userID, messageID)
	if err != nil {
		return err
	}

	var current []tagRow
	if err := tx.SelectContext(ctx, &current, `
		SELECT `+tagColumns+` FROM message_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE mt.imap_message_id = ? AND t.user_id = ?`, messageID, userID); err != nil {
		return fmt.Errorf("failed to load message tags: %w", err)
	}

	have := make(map[string]bool, len(current))
	for _, t := range current {
		label := strings.ToLower(t.IMAPLabel)
		have[label] = true
		if _, ok := want[label]; !ok {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM message_tags WHERE imap_message_id = ? AND tag_id = ?", messageID, t.ID); err != nil {
				return fmt.Errorf("failed to remove tag %s: %w", t.IMAPLabel, err)
			}
		}
	}

	missing := make([]string, 0, len(want))
	for label, flag := range want {
		if !have[label] {
			missing = append(missing, flag)
		}
	}
	sort.Strings(missing)
	for _, flag := range missing {
		tagID, err := getOrCreateTag(ctx, tx, userID, flag, flag, "")
		if err != nil {
			return err
		}
		if err := associateTag(ctx, tx, messageID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// setCachedFlag adds or removes flag, ignoring case, on one cached message.
// A message that is not cached is left alone.
func setCachedFlag(ctx context.Context, tx *sqlx.Tx, mailboxID int64, uid uint32, flag string, value bool) error {
	var raw string
	err := tx.GetContext(ctx, &raw,
		"SELECT flags FROM messages WHERE mailbox_id = ? AND uid = ?", mailboxID, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load flags of uid %d: %w", uid, err)
	}
	flags, err := decodeFlags(raw)
	if err != nil {
		return err
	}

	updated := make([]string, 0, len(flags)+1)
	for _, f := range flags {
		if !strings.EqualFold(f, flag) {
			updated = append(updated, f)
		}
	}
	if value {
		updated = append(updated, flag)
	}
	encoded, err := encodeFlags(updated)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET flags = ? WHERE mailbox_id = ? AND uid = ?", encoded, mailboxID, uid); err != nil {
		return fmt.Errorf("failed to update flags of uid %d: %w", uid, err)
	}
	return nil
}

// releaseTags runs after cached copies of messageIDs were removed. It drops
// associations of identifiers no cached message carries anymore, and
// reconciles the user's tags against the copies that remain.
func releaseTags(ctx context.Context, tx *sqlx.Tx, userID string, messageIDs []string) error {
	for _, id := range messageIDs {
		if id == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM message_tags
			WHERE imap_message_id = ?
			AND NOT EXISTS (SELECT 1 FROM messages WHERE message_id = ?)`, id, id)
		if err != nil {
			return fmt.Errorf("failed to delete orphaned tags: %w", err)
		}
		if userID == "" {
			continue
		}
		if err := reconcileTags(ctx, tx, userID, id); err != nil {
			return err
		}
	}
	return nil
}
