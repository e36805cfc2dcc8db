package leetcode

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/streakwatch/internal/activity"
	"github.com/sakif/streakwatch/internal/apperror"
	"github.com/sakif/streakwatch/internal/model"
)

const profileQuery = `query userProfile($username: String!) {
  matchedUser(username: $username) {
    username
    profile { realName userAvatar ranking }
    submitStatsGlobal { acSubmissionNum { difficulty count } }
    submissionCalendar
  }
  userContestRanking(username: $username) { rating attendedContestsCount globalRanking }
}`

const badgesQuery = `query userBadges($username: String!) {
  matchedUser(username: $username) { badges { id displayName icon } }
}`

const recentSubmissionsQuery = `query recentSubmissions($username: String!, $limit: Int!) {
  recentSubmissionList(username: $username, limit: $limit) { id title titleSlug timestamp statusDisplay lang }
}`

const acceptedSubmissionsQuery = `query recentAcSubmissions($username: String!, $limit: Int!) {
  recentAcSubmissionList(username: $username, limit: $limit) { id title titleSlug timestamp }
}`

const submissionDetailQuery = `query submissionDetails($submissionId: Int!) {
  submissionDetails(submissionId: $submissionId) {
    runtime
    memory
    code
    timestamp
    lang { name }
    question { questionId title titleSlug difficulty topicTags { slug } }
  }
}`

// ProfileData is the result of the primary query.
type ProfileData struct {
	Username string
	Profile  model.Profile
	Stats    model.Stats
	Calendar activity.Calendar
	Contest  model.Contest
}

type profileResponse struct {
	MatchedUser *struct {
		Username string `json:"username"`
		Profile  struct {
			RealName   string `json:"realName"`
			UserAvatar string `json:"userAvatar"`
			Ranking    int    `json:"ranking"`
		} `json:"profile"`
		SubmitStatsGlobal struct {
			AcSubmissionNum []struct {
				Difficulty string `json:"difficulty"`
				Count      int    `json:"count"`
			} `json:"acSubmissionNum"`
		} `json:"submitStatsGlobal"`
		SubmissionCalendar string `json:"submissionCalendar"`
	} `json:"matchedUser"`
	UserContestRanking *struct {
		Rating                float64 `json:"rating"`
		AttendedContestsCount int     `json:"attendedContestsCount"`
		GlobalRanking         int     `json:"globalRanking"`
	} `json:"userContestRanking"`
}

// FetchProfile runs the primary query. A handle LeetCode does not know is
// reported as NotFound.
func (c *Client) FetchProfile(ctx context.Context, username string) (*ProfileData, error) {
	var resp profileResponse
	if err := c.query(ctx, "profile", profileQuery, map[string]any{"username": username}, &resp, false); err != nil {
		return nil, err
	}
	if resp.MatchedUser == nil {
		return nil, apperror.NotFound("leetcode user", username)
	}
	u := resp.MatchedUser

	cal, err := activity.ParseCalendar(u.SubmissionCalendar)
	if err != nil {
		return nil, apperror.Transient("leetcode returned an unreadable submission calendar", err)
	}

	data := &ProfileData{
		Username: u.Username,
		Profile: model.Profile{
			DisplayName: u.Profile.RealName,
			AvatarURL:   u.Profile.UserAvatar,
			GlobalRank:  u.Profile.Ranking,
		},
		Calendar: cal,
	}
	if data.Profile.DisplayName == "" {
		data.Profile.DisplayName = u.Username
	}
	for _, n := range u.SubmitStatsGlobal.AcSubmissionNum {
		switch strings.ToLower(n.Difficulty) {
		case "all":
			data.Stats.Total = n.Count
		case "easy":
			data.Stats.Easy = n.Count
		case "medium":
			data.Stats.Medium = n.Count
		case "hard":
			data.Stats.Hard = n.Count
		}
	}
	if data.Stats.Total == 0 {
		data.Stats.Total = data.Stats.Easy + data.Stats.Medium + data.Stats.Hard
	}
	if r := resp.UserContestRanking; r != nil {
		data.Contest = model.Contest{Rating: r.Rating, Attended: r.AttendedContestsCount, Rank: r.GlobalRanking}
	}
	return data, nil
}

func (c *Client) FetchBadges(ctx context.Context, username string) ([]model.Badge, error) {
	var resp struct {
		MatchedUser *struct {
			Badges []model.Badge `json:"badges"`
		} `json:"matchedUser"`
	}
	if err := c.query(ctx, "badges", badgesQuery, map[string]any{"username": username}, &resp, false); err != nil {
		return nil, err
	}
	if resp.MatchedUser == nil {
		return nil, apperror.NotFound("leetcode user", username)
	}
	return resp.MatchedUser.Badges, nil
}

type submissionNode struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	TitleSlug     string `json:"titleSlug"`
	Timestamp     string `json:"timestamp"`
	StatusDisplay string `json:"statusDisplay"`
	Lang          string `json:"lang"`
}

func (n submissionNode) toModel() model.Submission {
	s := model.Submission{
		ID:        n.ID,
		Title:     n.Title,
		TitleSlug: n.TitleSlug,
		Status:    n.StatusDisplay,
		Language:  n.Lang,
	}
	if secs, err := strconv.ParseInt(n.Timestamp, 10, 64); err == nil {
		s.Timestamp = time.Unix(secs, 0).UTC()
	}
	return s
}

func (c *Client) FetchRecentSubmissions(ctx context.Context, username string, limit int) ([]model.Submission, error) {
	var resp struct {
		RecentSubmissionList []submissionNode `json:"recentSubmissionList"`
	}
	vars := map[string]any{"username": username, "limit": limit}
	if err := c.query(ctx, "recent submissions", recentSubmissionsQuery, vars, &resp, false); err != nil {
		return nil, err
	}
	out := make([]model.Submission, 0, len(resp.RecentSubmissionList))
	for _, n := range resp.RecentSubmissionList {
		out = append(out, n.toModel())
	}
	return out, nil
}

// FetchAcceptedSubmissions lists recent accepted submissions, newest first.
func (c *Client) FetchAcceptedSubmissions(ctx context.Context, username string, limit int) ([]model.Submission, error) {
	var resp struct {
		RecentAcSubmissionList []submissionNode `json:"recentAcSubmissionList"`
	}
	vars := map[string]any{"username": username, "limit": limit}
	if err := c.query(ctx, "accepted submissions", acceptedSubmissionsQuery, vars, &resp, false); err != nil {
		return nil, err
	}
	out := make([]model.Submission, 0, len(resp.RecentAcSubmissionList))
	for _, n := range resp.RecentAcSubmissionList {
		s := n.toModel()
		s.Status = "Accepted"
		out = append(out, s)
	}
	return out, nil
}

// FetchSubmissionDetail loads the code and metrics of one of the session
// owner's submissions and shapes it for the mirror.
func (c *Client) FetchSubmissionDetail(ctx context.Context, submissionID string) (*model.MirrorArtifact, error) {
	id, err := strconv.Atoi(submissionID)
	if err != nil {
		return nil, apperror.ValidationFailed("submissionId", fmt.Sprintf("submission id %q is not numeric", submissionID))
	}

	var resp struct {
		SubmissionDetails *struct {
			Runtime   int    `json:"runtime"`
			Memory    int64  `json:"memory"`
			Code      string `json:"code"`
			Timestamp int64  `json:"timestamp"`
			Lang      struct {
				Name string `json:"name"`
			} `json:"lang"`
			Question struct {
				QuestionID string `json:"questionId"`
				Title      string `json:"title"`
				TitleSlug  string `json:"titleSlug"`
				Difficulty string `json:"difficulty"`
				TopicTags  []struct {
					Slug string `json:"slug"`
				} `json:"topicTags"`
			} `json:"question"`
		} `json:"submissionDetails"`
	}
	if err := c.query(ctx, "submission detail", submissionDetailQuery, map[string]any{"submissionId": id}, &resp, true); err != nil {
		return nil, err
	}
	d := resp.SubmissionDetails
	if d == nil {
		return nil, apperror.NotFound("submission", submissionID)
	}

	category := "algorithms"
	if len(d.Question.TopicTags) > 0 && d.Question.TopicTags[0].Slug != "" {
		category = d.Question.TopicTags[0].Slug
	}
	return &model.MirrorArtifact{
		SubmissionID: submissionID,
		QuestionID:   d.Question.QuestionID,
		Title:        d.Question.Title,
		Slug:         d.Question.TitleSlug,
		Category:     category,
		Difficulty:   d.Question.Difficulty,
		Language:     d.Lang.Name,
		Code:         d.Code,
		Metrics: activity.Metrics{
			RuntimeMs: float64(d.Runtime),
			MemoryMB:  float64(d.Memory) / (1024 * 1024),
		},
		SolvedAt: time.Unix(d.Timestamp, 0).UTC(),
	}, nil
}
