package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

const (
	// DefaultAvatarBucket is the storage bucket holding avatar assets.
	DefaultAvatarBucket = "avatars"
	// MaxAvatarSize is the largest accepted avatar, 2 MiB.
	MaxAvatarSize = 2 * 1024 * 1024

	avatarCacheControl = "3600"
)

// AvatarFile is an image picked by the user.
type AvatarFile struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AvatarHandler manages avatar assets in object storage and keeps the
// identity metadata and the session state pointing at the current one.
// It shares the operation slot of its Manager.
type AvatarHandler struct {
	manager *Manager
	storage ObjectStorage
	bucket  string
	logger  Logger
	now     func() time.Time
}

// NewAvatarHandler returns a handler writing to the manager's avatar bucket.
func NewAvatarHandler(manager *Manager, storage ObjectStorage) *AvatarHandler {
	h := &AvatarHandler{
		manager: manager,
		storage: storage,
		bucket:  manager.config.AvatarBucket,
		logger:  manager.logger,
		now:     time.Now,
	}
	manager.assets = h
	return h
}

func (h *AvatarHandler) WithLogger(logger Logger) *AvatarHandler {
	h.logger = normalizeLogger(logger)
	return h
}

// Upload stores file as the new avatar and returns its public URL. The file
// is checked before any network call. The superseded asset is deleted only
// after the identity metadata points at the new one, and a failed delete
// does not fail the upload.
func (h *AvatarHandler) Upload(ctx context.Context, file *AvatarFile) (string, error) {
	if err := validateAvatar(file); err != nil {
		return "", err
	}
	body, err := readAvatar(file.Body)
	if err != nil {
		return "", err
	}

	end, err := h.manager.begin("avatar_upload")
	if err != nil {
		return "", err
	}
	defer end()

	user, err := h.manager.currentUser()
	if err != nil {
		return "", err
	}

	previous := h.assetPath(user.ID, user.Avatar)
	key := fmt.Sprintf("%s-%d.%s", user.ID, h.now().UnixMilli(), avatarExtension(file))

	err = h.storage.Upload(ctx, h.bucket, key, bytes.NewReader(body), UploadOptions{
		ContentType:  file.ContentType,
		CacheControl: avatarCacheControl,
		Upsert:       false,
	})
	if err != nil {
		h.logger.Error("avatar upload failed", "user_id", user.ID, "error", err)
		return "", err
	}

	publicURL := h.storage.GetPublicURL(h.bucket, key)

	if _, err := h.manager.identity.UpdateUser(ctx, UserAttributes{
		Data: map[string]any{"avatar_url": publicURL},
	}); err != nil {
		h.logger.Error("avatar metadata update failed", "user_id", user.ID, "error", err)
		// A transport failure leaves the outcome unknown, so the new asset
		// may already be referenced.
		if _, ok := AsRemoteError(err); ok {
			h.removeAsset(ctx, key)
		}
		return "", err
	}

	if previous != "" && previous != key {
		h.removeAsset(ctx, previous)
	}

	h.manager.store.mergeProfile(nil, &publicURL)
	h.manager.emitActivity(ctx, ActivityEventAvatarUploaded, user.ID, user.Email, map[string]any{
		"path": key,
		"size": len(body),
	})
	return publicURL, nil
}

// Remove resets the avatar to the generated placeholder and returns it.
// When the placeholder is already current nothing is sent to the services.
func (h *AvatarHandler) Remove(ctx context.Context) (string, error) {
	end, err := h.manager.begin("avatar_remove")
	if err != nil {
		return "", err
	}
	defer end()

	user, err := h.manager.currentUser()
	if err != nil {
		return "", err
	}

	placeholder := PlaceholderAvatar(user.Email)
	if user.Avatar == placeholder {
		return placeholder, nil
	}

	previous := h.assetPath(user.ID, user.Avatar)

	if _, err := h.manager.identity.UpdateUser(ctx, UserAttributes{
		Data: map[string]any{"avatar_url": placeholder},
	}); err != nil {
		h.logger.Error("avatar reset failed", "user_id", user.ID, "error", err)
		return "", err
	}

	if previous != "" {
		h.removeAsset(ctx, previous)
	}

	h.manager.store.mergeProfile(nil, &placeholder)
	h.manager.emitActivity(ctx, ActivityEventAvatarRemoved, user.ID, user.Email, nil)
	return placeholder, nil
}

// release deletes the asset behind previous when the avatar moved away
// from it. Failures are logged only.
func (h *AvatarHandler) release(ctx context.Context, userID, previous, current string) {
	old := h.assetPath(userID, previous)
	if old == "" || old == h.assetPath(userID, current) {
		return
	}
	h.removeAsset(ctx, old)
}

func (h *AvatarHandler) removeAsset(ctx context.Context, key string) {
	if err := h.storage.Remove(ctx, h.bucket, []string{key}); err != nil {
		h.logger.Warn("avatar cleanup failed", "bucket", h.bucket, "path", key, "error", err)
	}
}

// assetPath returns the object path of avatarURL when it is an asset this
// handler uploaded for userID, or "" otherwise.
func (h *AvatarHandler) assetPath(userID, avatarURL string) string {
	marker := h.bucket + "/" + userID + "-"
	idx := strings.Index(avatarURL, marker)
	if idx < 0 {
		return ""
	}
	p := avatarURL[idx+len(h.bucket)+1:]
	if q := strings.IndexAny(p, "?#"); q >= 0 {
		p = p[:q]
	}
	return p
}

func validateAvatar(file *AvatarFile) error {
	if file == nil || file.Body == nil {
		return ErrAvatarMissing
	}
	if file.Size > MaxAvatarSize {
		return ErrAvatarTooLarge
	}
	if !strings.HasPrefix(strings.ToLower(file.ContentType), "image/") {
		return ErrAvatarNotImage
	}
	return nil
}

// readAvatar buffers body, failing once it grows past MaxAvatarSize
// regardless of the declared size.
func readAvatar(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, MaxAvatarSize+1))
	if err != nil {
		return nil, fmt.Errorf("read avatar: %w", err)
	}
	if len(data) > MaxAvatarSize {
		return nil, ErrAvatarTooLarge
	}
	return data, nil
}

func avatarExtension(file *AvatarFile) string {
	if ext := strings.TrimPrefix(path.Ext(file.Name), "."); ext != "" {
		return strings.ToLower(ext)
	}

	_, subtype, _ := strings.Cut(strings.ToLower(file.ContentType), "/")
	subtype, _, _ = strings.Cut(subtype, ";")
	switch subtype {
	case "":
		return "img"
	case "svg+xml":
		return "svg"
	}
	return strings.TrimSpace(subtype)
}
