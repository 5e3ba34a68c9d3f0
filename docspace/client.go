package docspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/ONLYOFFICE/onlyoffice-docspace-zoom/internal"
)

var UserAgent = "zoomsvc"

// Access levels the portal understands for room sharing.
type AccessLevel string

const (
	AccessEditing AccessLevel = "Editing"
	AccessRead    AccessLevel = "Read"
)

type FileInfo struct {
	ID       string
	Title    string
	FolderID string
}

// Client is the slice of the portal's rooms/files API this service consumes.
// All calls authenticate with a portal access token resolved from the account
// directory; the token scopes the call to the right tenant. A quota-limited
// response surfaces as *internal.QuotaExceededError, every other non-2xx as a
// plain error.
type Client interface {
	CreateRoom(ctx context.Context, accessToken, title string) (roomID string, err error)
	CreateFile(ctx context.Context, accessToken, roomID, title string) (fileID string, err error)
	CopyFileToRoom(ctx context.Context, accessToken, fileID, roomID string) (newFileID string, err error)
	GetFile(ctx context.Context, accessToken, fileID string) (*FileInfo, error)
	SetRoomAccess(ctx context.Context, accessToken, roomID, portalUserID string, access AccessLevel) error
	ListRoomFiles(ctx context.Context, accessToken, roomID string) ([]FileInfo, error)
	CreateFolder(ctx context.Context, accessToken, parentID, title string) (folderID string, err error)
	MoveFiles(ctx context.Context, accessToken string, fileIDs []string, destFolderID string) error
	ArchiveRoom(ctx context.Context, accessToken, roomID string) error
}

// HTTPClient talks to one portal deployment. One client can be shared among
// many users; per-call identity comes from the access token.
type HTTPClient struct {
	Client    *http.Client
	PortalURL string
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, accessToken string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("docspace: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.PortalURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("docspace: new request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docspace: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("docspace: read response: %w", err)
	}
	if res.StatusCode == http.StatusPaymentRequired {
		return nil, &internal.QuotaExceededError{Op: method + " " + path}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("docspace: %s %s returned HTTP %d: %s", method, path, res.StatusCode, gjson.GetBytes(resBody, "error.message").Str)
	}
	return resBody, nil
}

func (c *HTTPClient) CreateRoom(ctx context.Context, accessToken, title string) (string, error) {
	body, err := c.do(ctx, "POST", "/api/2.0/files/rooms", map[string]interface{}{
		"title":    title,
		"roomType": "CustomRoom",
	}, accessToken)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "response.id")
	if !id.Exists() {
		return "", fmt.Errorf("docspace: CreateRoom response has no id")
	}
	return id.String(), nil
}

func (c *HTTPClient) CreateFile(ctx context.Context, accessToken, roomID, title string) (string, error) {
	body, err := c.do(ctx, "POST", "/api/2.0/files/"+url.PathEscape(roomID)+"/file", map[string]interface{}{
		"title": title,
	}, accessToken)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "response.id")
	if !id.Exists() {
		return "", fmt.Errorf("docspace: CreateFile response has no id")
	}
	return id.String(), nil
}

func (c *HTTPClient) CopyFileToRoom(ctx context.Context, accessToken, fileID, roomID string) (string, error) {
	body, err := c.do(ctx, "POST", "/api/2.0/files/file/"+url.PathEscape(fileID)+"/copyas", map[string]interface{}{
		"destFolderId": roomID,
	}, accessToken)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "response.id")
	if !id.Exists() {
		return "", fmt.Errorf("docspace: CopyFileToRoom response has no id")
	}
	return id.String(), nil
}

func (c *HTTPClient) GetFile(ctx context.Context, accessToken, fileID string) (*FileInfo, error) {
	body, err := c.do(ctx, "GET", "/api/2.0/files/file/"+url.PathEscape(fileID), nil, accessToken)
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(body, "response")
	if !res.Get("id").Exists() {
		return nil, fmt.Errorf("docspace: GetFile response has no id")
	}
	return &FileInfo{
		ID:       res.Get("id").String(),
		Title:    res.Get("title").Str,
		FolderID: res.Get("folderId").String(),
	}, nil
}

func (c *HTTPClient) SetRoomAccess(ctx context.Context, accessToken, roomID, portalUserID string, access AccessLevel) error {
	_, err := c.do(ctx, "PUT", "/api/2.0/files/rooms/"+url.PathEscape(roomID)+"/share", map[string]interface{}{
		"invitations": []map[string]interface{}{
			{"id": portalUserID, "access": string(access)},
		},
	}, accessToken)
	return err
}

func (c *HTTPClient) ListRoomFiles(ctx context.Context, accessToken, roomID string) ([]FileInfo, error) {
	body, err := c.do(ctx, "GET", "/api/2.0/files/"+url.PathEscape(roomID), nil, accessToken)
	if err != nil {
		return nil, err
	}
	var files []FileInfo
	for _, f := range gjson.GetBytes(body, "response.files").Array() {
		files = append(files, FileInfo{
			ID:       f.Get("id").String(),
			Title:    f.Get("title").Str,
			FolderID: f.Get("folderId").String(),
		})
	}
	return files, nil
}

func (c *HTTPClient) CreateFolder(ctx context.Context, accessToken, parentID, title string) (string, error) {
	body, err := c.do(ctx, "POST", "/api/2.0/files/folder/"+url.PathEscape(parentID), map[string]interface{}{
		"title": title,
	}, accessToken)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "response.id")
	if !id.Exists() {
		return "", fmt.Errorf("docspace: CreateFolder response has no id")
	}
	return id.String(), nil
}

func (c *HTTPClient) MoveFiles(ctx context.Context, accessToken string, fileIDs []string, destFolderID string) error {
	_, err := c.do(ctx, "PUT", "/api/2.0/files/fileops/move", map[string]interface{}{
		"fileIds":             fileIDs,
		"destFolderId":        destFolderID,
		"conflictResolveType": "Skip",
	}, accessToken)
	return err
}

func (c *HTTPClient) ArchiveRoom(ctx context.Context, accessToken, roomID string) error {
	_, err := c.do(ctx, "PUT", "/api/2.0/files/rooms/"+url.PathEscape(roomID)+"/archive", nil, accessToken)
	return err
}
