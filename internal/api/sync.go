package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wrenchio/workshop-backend/internal/auth"
	"github.com/wrenchio/workshop-backend/internal/gziputil"
	"github.com/wrenchio/workshop-backend/internal/storage"
)

func (s *Server) registerSync(api huma.API) {
	// --- Handshake ---
	// Desktop clients call this once after configuring their API token to
	// learn their organization and the current snapshot sequence.
	huma.Register(api, huma.Operation{
		OperationID: "syncHandshake",
		Method:      http.MethodPost,
		Path:        "/api/sync/handshake",
		Tags:        []string{"Sync"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *HandshakeInput) (*Envelope[HandshakeInfo], error) {
		opts := auth.Options{Operation: "syncHandshake"}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (HandshakeInfo, error) {
				org, err := s.orgs.get(ctx, ac.OrganizationID)
				if err != nil {
					return HandshakeInfo{}, err
				}
				if org == nil {
					return HandshakeInfo{}, errors.New("organization not found")
				}
				info := HandshakeInfo{OrgID: org.ID, OrgName: org.Name}
				latest, err := s.store.GetLatestSyncSnapshot(ctx, ac.OrganizationID)
				if err != nil {
					return HandshakeInfo{}, err
				}
				if latest != nil {
					info.LatestSequence = latest.Sequence
				}
				return info, nil
			})
	})

	// --- Upload snapshot ---
	// Body is a gzip-compressed JSON snapshot; stored compressed, hashed
	// uncompressed so clients can verify integrity after download.
	huma.Register(api, huma.Operation{
		OperationID: "uploadSnapshot",
		Method:      http.MethodPost,
		Path:        "/api/sync/snapshots",
		Tags:        []string{"Sync"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *UploadSnapshotInput) (*Envelope[SnapshotInfo], error) {
		opts := auth.Options{Operation: "uploadSnapshot"}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (SnapshotInfo, error) {
				if len(input.RawBody) == 0 {
					return SnapshotInfo{}, auth.NewValidationError("body", "snapshot payload is required")
				}
				if len(input.RawBody) > s.maxSnapshotBytes {
					return SnapshotInfo{}, auth.NewValidationError("body", "snapshot exceeds maximum size")
				}
				if !gziputil.IsGzipped(input.RawBody) {
					return SnapshotInfo{}, auth.NewValidationError("body", "snapshot must be gzip-compressed")
				}
				raw, err := gziputil.Decompress(input.RawBody)
				if err != nil {
					return SnapshotInfo{}, auth.NewValidationError("body", "invalid gzip payload")
				}
				sum := sha256.Sum256(raw)

				snap := &storage.SyncSnapshot{
					OrganizationID: ac.OrganizationID,
					Payload:        input.RawBody,
					Hash:           hex.EncodeToString(sum[:]),
					CreatedAt:      time.Now(),
				}
				seq, err := s.store.SaveSyncSnapshot(ctx, snap)
				if err != nil {
					return SnapshotInfo{}, err
				}
				snapshotBytesTotal.WithLabelValues("upload").Add(float64(len(input.RawBody)))
				return SnapshotInfo{Sequence: seq, Hash: snap.Hash}, nil
			})
	})

	// --- Download latest snapshot ---
	huma.Register(api, huma.Operation{
		OperationID: "downloadSnapshot",
		Method:      http.MethodGet,
		Path:        "/api/sync/snapshots/latest",
		Tags:        []string{"Sync"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *DownloadSnapshotInput) (*huma.StreamResponse, error) {
		type payload struct {
			data []byte
			seq  int64
			hash string
		}
		out, err := run(ctx, s, input.Credentials, auth.Options{Operation: "downloadSnapshot"},
			func(ctx context.Context, ac *auth.AuthContext) (payload, error) {
				snap, err := s.store.GetLatestSyncSnapshot(ctx, ac.OrganizationID)
				if err != nil {
					return payload{}, err
				}
				if snap == nil {
					return payload{}, errors.New("no snapshot available")
				}
				return payload{data: snap.Payload, seq: snap.Sequence, hash: snap.Hash}, nil
			})
		if err != nil {
			return nil, err
		}
		p := out.Body.Data
		snapshotBytesTotal.WithLabelValues("download").Add(float64(len(p.data)))
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				ctx.SetHeader("Content-Type", "application/octet-stream")
				ctx.SetHeader("Content-Encoding", "identity")
				ctx.SetHeader("X-Snapshot-Sequence", strconv.FormatInt(p.seq, 10))
				ctx.SetHeader("X-Snapshot-Hash", p.hash)
				_, _ = ctx.BodyWriter().Write(p.data)
			},
		}, nil
	})

	if s.fileTokens != nil {
		s.registerFileDownloads(api)
	}
}

func (s *Server) registerFileDownloads(api huma.API) {
	// --- Issue a signed file URL ---
	// The returned URL embeds a short-lived HMAC token scoped to one file in
	// the caller's organization, so the long-lived API token never appears in
	// a query string.
	huma.Register(api, huma.Operation{
		OperationID: "createFileURL",
		Method:      http.MethodPost,
		Path:        "/api/sync/files/{fileID}/url",
		Tags:        []string{"Sync"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *FileURLInput) (*Envelope[FileURLInfo], error) {
		opts := auth.Options{Operation: "createFileURL"}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (FileURLInfo, error) {
				token, err := s.fileTokens.Issue(ac.OrganizationID, input.FileID)
				if err != nil {
					return FileURLInfo{}, err
				}
				return FileURLInfo{
					URL:       "/api/sync/files/" + input.FileID + "?token=" + token,
					ExpiresIn: int64(s.fileTokenTTL.Seconds()),
				}, nil
			})
	})

	// --- Download a file via signed token ---
	// Authorization comes entirely from the signed token; no session or API
	// token is consulted.
	huma.Register(api, huma.Operation{
		OperationID: "downloadFile",
		Method:      http.MethodGet,
		Path:        "/api/sync/files/{fileID}",
		Tags:        []string{"Sync"},
		Errors:      []int{401, 404},
	}, func(ctx context.Context, input *DownloadFileInput) (*huma.StreamResponse, error) {
		orgID, fileID, err := s.fileTokens.Validate(input.Token)
		if err != nil {
			return nil, huma.NewError(http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		}
		if fileID != input.FileID {
			return nil, huma.NewError(http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		}

		// Files are snapshot payloads addressed as "snapshot-<sequence>".
		seq, ok := parseSnapshotFileID(fileID)
		if !ok {
			return nil, huma.NewError(http.StatusNotFound, "file not found")
		}
		snap, err := s.store.GetSyncSnapshot(ctx, orgID, seq)
		if err != nil {
			return nil, huma.NewError(http.StatusInternalServerError, "internal error")
		}
		if snap == nil {
			return nil, huma.NewError(http.StatusNotFound, "file not found")
		}
		snapshotBytesTotal.WithLabelValues("download").Add(float64(len(snap.Payload)))
		return &huma.StreamResponse{
			Body: func(ctx huma.Context) {
				ctx.SetHeader("Content-Type", "application/octet-stream")
				ctx.SetHeader("X-Snapshot-Hash", snap.Hash)
				_, _ = ctx.BodyWriter().Write(snap.Payload)
			},
		}, nil
	})
}

// parseSnapshotFileID extracts the sequence from a "snapshot-<n>" file id.
func parseSnapshotFileID(fileID string) (int64, bool) {
	const prefix = "snapshot-"
	if !strings.HasPrefix(fileID, prefix) {
		return 0, false
	}
	seq, err := strconv.ParseInt(fileID[len(prefix):], 10, 64)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}
