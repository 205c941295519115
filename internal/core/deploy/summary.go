package deploy

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Summary Rendering
// =============================================================================

// Summary is the operator-facing report of a completed run.
type Summary struct {
	RunID             string         `json:"run_id" yaml:"run_id"`
	SourceImage       string         `json:"source_image" yaml:"source_image"`
	Repository        string         `json:"repository" yaml:"repository"`
	RepositoryURI     string         `json:"repository_uri" yaml:"repository_uri"`
	RepositoryCreated bool           `json:"repository_created" yaml:"repository_created"`
	Region            string         `json:"region" yaml:"region"`
	Account           string         `json:"account" yaml:"account"`
	Digest            string         `json:"digest,omitempty" yaml:"digest,omitempty"`
	PushedTags        []string       `json:"pushed_tags" yaml:"pushed_tags"`
	Images            []SummaryImage `json:"images" yaml:"images"`
	Duration          string         `json:"duration" yaml:"duration"`
}

// SummaryImage is one repository image in the verification listing.
type SummaryImage struct {
	Digest   string    `json:"digest" yaml:"digest"`
	Tags     []string  `json:"tags" yaml:"tags"`
	PushedAt time.Time `json:"pushed_at" yaml:"pushed_at"`
	SizeMB   float64   `json:"size_mb" yaml:"size_mb"`
}

// NewSummary builds the summary from a run result.
func NewSummary(res *Result) *Summary {
	s := &Summary{
		RunID:             res.RunID,
		SourceImage:       res.SourceImage,
		Repository:        res.Repository,
		RepositoryURI:     res.RepositoryURI,
		RepositoryCreated: res.RepositoryCreated,
		Region:            res.Region,
		Account:           res.AccountID,
		Digest:            res.Digest,
		PushedTags:        res.PushedTags,
		Duration:          res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String(),
	}
	for _, img := range res.Images {
		s.Images = append(s.Images, SummaryImage{
			Digest:   img.Digest,
			Tags:     img.Tags,
			PushedAt: img.PushedAt,
			SizeMB:   float64(img.SizeBytes) / (1024 * 1024),
		})
	}
	return s
}

// Render writes the summary in the requested format: "text" (default),
// "json", or "yaml".
func (s *Summary) Render(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case "", "text":
		return s.renderText(w)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		return yaml.NewEncoder(w).Encode(s)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func (s *Summary) renderText(w io.Writer) error {
	fmt.Fprintln(w, "Deployment complete")
	fmt.Fprintln(w, "-------------------")
	fmt.Fprintf(w, "Run:        %s\n", s.RunID)
	fmt.Fprintf(w, "Source:     %s\n", s.SourceImage)
	fmt.Fprintf(w, "Repository: %s", s.RepositoryURI)
	if s.RepositoryCreated {
		fmt.Fprint(w, " (created)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Account:    %s\n", s.Account)
	fmt.Fprintf(w, "Region:     %s\n", s.Region)
	if s.Digest != "" {
		fmt.Fprintf(w, "Digest:     %s\n", s.Digest)
	}
	fmt.Fprintf(w, "Pushed:     %s\n", strings.Join(s.PushedTags, ", "))
	fmt.Fprintf(w, "Duration:   %s\n", s.Duration)

	if len(s.Images) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Repository contents:")
		for _, img := range s.Images {
			tags := strings.Join(img.Tags, ", ")
			if tags == "" {
				tags = "<untagged>"
			}
			fmt.Fprintf(w, "  %-20s %8.1f MB  %s\n", tags, img.SizeMB, img.Digest)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Pull with:")
	fmt.Fprintf(w, "  aws ecr get-login-password --region %s | docker login --username AWS --password-stdin %s\n",
		s.Region, registryHost(s.RepositoryURI))
	fmt.Fprintf(w, "  docker pull %s:latest\n", s.RepositoryURI)
	return nil
}

func registryHost(uri string) string {
	host, _, found := strings.Cut(uri, "/")
	if !found {
		return uri
	}
	return host
}
