package catalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"golang.org/x/time/rate"
)

const (
	serviceName = "ProductAdvertisingAPI"
	getItemsOp  = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.GetItems"
	getItemsURI = "/paapi5/getitems"
)

var getItemsResources = []string{
	"BrowseNodeInfo.BrowseNodes",
	"Images.Primary.Medium",
	"ItemInfo.ByLineInfo",
	"ItemInfo.ContentInfo",
	"ItemInfo.Features",
	"ItemInfo.Title",
}

// Config configures a Client.
type Config struct {
	AccessKey   string
	SecretKey   string
	PartnerTag  string
	Host        string
	Region      string
	Marketplace string
	// Endpoint overrides https://<Host>.
	Endpoint string
	// Rate is the number of requests per second.
	Rate       float64
	HTTPClient *http.Client
}

// Client calls the GetItems operation of the Product Advertising API 5.0.
type Client struct {
	cfg     Config
	http    *http.Client
	signer  *v4.Signer
	limiter *rate.Limiter
}

var _ Lookuper = (*Client)(nil)

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://" + cfg.Host
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		http:    hc,
		signer:  v4.NewSigner(),
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
	}
}

type getItemsRequest struct {
	ItemIDs     []string `json:"ItemIds"`
	ItemIDType  string   `json:"ItemIdType"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	Resources   []string `json:"Resources"`
}

type displayValue struct {
	DisplayValue string `json:"DisplayValue"`
}

type getItemsResponse struct {
	ItemsResult struct {
		Items []struct {
			ASIN          string `json:"ASIN"`
			DetailPageURL string `json:"DetailPageURL"`
			Images        struct {
				Primary struct {
					Medium struct {
						URL string `json:"URL"`
					} `json:"Medium"`
				} `json:"Primary"`
			} `json:"Images"`
			ItemInfo struct {
				Title      displayValue `json:"Title"`
				ByLineInfo struct {
					Contributors []struct {
						Name     string `json:"Name"`
						RoleType string `json:"RoleType"`
					} `json:"Contributors"`
					Manufacturer displayValue `json:"Manufacturer"`
				} `json:"ByLineInfo"`
				ContentInfo struct {
					PublicationDate displayValue `json:"PublicationDate"`
				} `json:"ContentInfo"`
				Features struct {
					DisplayValues []string `json:"DisplayValues"`
				} `json:"Features"`
			} `json:"ItemInfo"`
			BrowseNodeInfo struct {
				BrowseNodes []struct {
					DisplayName string `json:"DisplayName"`
				} `json:"BrowseNodes"`
			} `json:"BrowseNodeInfo"`
		} `json:"Items"`
	} `json:"ItemsResult"`
	Errors []struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	} `json:"Errors"`
}

// Lookup fetches the items with the given ids.
func (c *Client) Lookup(ctx context.Context, ids []string) (*Response, error) {
	if len(ids) == 0 {
		return &Response{}, nil
	}
	if len(ids) > MaxLookupIDs {
		return nil, fmt.Errorf("lookup: %d ids exceeds the limit of %d", len(ids), MaxLookupIDs)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(getItemsRequest{
		ItemIDs:     ids,
		ItemIDType:  "ASIN",
		PartnerTag:  c.cfg.PartnerTag,
		PartnerType: "Associates",
		Marketplace: c.cfg.Marketplace,
		Resources:   getItemsResources,
	})
	if err != nil {
		return nil, err
	}
	req, err := c.newSignedRequest(ctx, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lookup: read body: %w", err)
	}

	var raw getItemsResponse
	decodeErr := json.Unmarshal(body, &raw)
	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			for _, e := range raw.Errors {
				se.Errors = append(se.Errors, APIError{Code: e.Code, Message: e.Message})
			}
		}
		return nil, se
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("lookup: decode: %w", decodeErr)
	}
	return convert(&raw), nil
}

func (c *Client) newSignedRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+getItemsURI, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Content-Encoding", "amz-1.0")
	req.Header.Set("X-Amz-Target", getItemsOp)
	if c.cfg.Host != "" {
		req.Host = c.cfg.Host
	}

	sum := sha256.Sum256(payload)
	creds := aws.Credentials{AccessKeyID: c.cfg.AccessKey, SecretAccessKey: c.cfg.SecretKey}
	if err := c.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), serviceName, c.cfg.Region, time.Now()); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return req, nil
}

func convert(raw *getItemsResponse) *Response {
	out := &Response{}
	for _, e := range raw.Errors {
		out.Errors = append(out.Errors, APIError{Code: e.Code, Message: e.Message})
	}
	for _, ri := range raw.ItemsResult.Items {
		item := Item{
			ASIN:          ri.ASIN,
			Title:         ri.ItemInfo.Title.DisplayValue,
			DetailPageURL: ri.DetailPageURL,
			ImageURL:      ri.Images.Primary.Medium.URL,
			Publisher:     ri.ItemInfo.ByLineInfo.Manufacturer.DisplayValue,
			Features:      ri.ItemInfo.Features.DisplayValues,
		}
		for _, contributor := range ri.ItemInfo.ByLineInfo.Contributors {
			if contributor.RoleType == "author" {
				item.Authors = append(item.Authors, contributor.Name)
			}
		}
		for _, node := range ri.BrowseNodeInfo.BrowseNodes {
			item.BrowseNodes = append(item.BrowseNodes, node.DisplayName)
		}
		if d := ri.ItemInfo.ContentInfo.PublicationDate.DisplayValue; d != "" {
			if t, err := dateparse.ParseIn(d, time.UTC); err == nil {
				item.PublishedOn = &t
			}
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// IsThrottled reports whether err is a rate limit rejection.
func IsThrottled(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}
