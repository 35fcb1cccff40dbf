package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"picksy-realtime-backend/models"
)

const categoryCallTimeout = 3 * time.Second

// CategoryClient 类目服务的只读查询接口
type CategoryClient interface {
	// GetCategoryType 查询类目的投票模式
	GetCategoryType(ctx context.Context, categoryID int64) (models.CategoryType, error)
}

// HTTPCategoryClient 通过HTTP访问类目服务
type HTTPCategoryClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCategoryClient 从环境变量CATEGORY_SERVICE_URL创建类目服务客户端
func NewHTTPCategoryClient() *HTTPCategoryClient {
	baseURL := os.Getenv("CATEGORY_SERVICE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8081"
	}
	return &HTTPCategoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: categoryCallTimeout},
	}
}

func (c *HTTPCategoryClient) GetCategoryType(ctx context.Context, categoryID int64) (models.CategoryType, error) {
	url := fmt.Sprintf("%s/api/category/%d/type", c.baseURL, categoryID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create category type request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute category type request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("category service returned status %d", resp.StatusCode)
	}

	var typeResp struct {
		CategoryType string `json:"categoryType"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&typeResp); err != nil {
		return 0, fmt.Errorf("failed to decode category type response: %w", err)
	}

	categoryType, ok := models.ParseCategoryType(typeResp.CategoryType)
	if !ok {
		return 0, fmt.Errorf("category service returned unknown type %q", typeResp.CategoryType)
	}
	return categoryType, nil
}
