package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/refpilot/refpilot/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetDefaultUser(ctx context.Context) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM users WHERE email = 'default@refpilot.local' LIMIT 1`,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get default user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Scrape Jobs ---

const scrapeJobColumns = `id, software_filter, status, programs_found, current_progress, error_detail, started_at, completed_at`

func (s *PostgresStore) CreateScrapeJob(ctx context.Context, job *models.ScrapeJob) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_jobs (id, software_filter, status, programs_found, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.SoftwareFilter, job.Status, job.ProgramsFound, job.StartedAt)
	if err != nil {
		return fmt.Errorf("create scrape job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScrapeJob(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	var j models.ScrapeJob
	err := s.pool.QueryRow(ctx,
		`SELECT `+scrapeJobColumns+` FROM scrape_jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.SoftwareFilter, &j.Status, &j.ProgramsFound, &j.CurrentProgress,
		&j.ErrorDetail, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scrape job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) ListScrapeJobs(ctx context.Context, limit int) ([]*models.ScrapeJob, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+scrapeJobColumns+` FROM scrape_jobs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scrape jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScrapeJob
	for rows.Next() {
		var j models.ScrapeJob
		if err := rows.Scan(&j.ID, &j.SoftwareFilter, &j.Status, &j.ProgramsFound,
			&j.CurrentProgress, &j.ErrorDetail, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan scrape job: %w", err)
		}
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

// UpdateScrapeJobProgress writes a progress checkpoint. Only running jobs are
// updated; checkpoints arriving after the job completed are dropped.
func (s *PostgresStore) UpdateScrapeJobProgress(ctx context.Context, id uuid.UUID, programsFound int, checkpoint string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET programs_found = $2, current_progress = $3
		 WHERE id = $1 AND status = 'running'`,
		id, programsFound, checkpoint)
	if err != nil {
		return fmt.Errorf("update scrape job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var validJobTransitions = map[string][]string{
	models.ScrapeJobStatusRunning: {models.ScrapeJobStatusSuccess, models.ScrapeJobStatusError},
}

// CompleteScrapeJob moves a job out of the running state. The transition is
// validated at the write boundary: a terminal job can never change again.
func (s *PostgresStore) CompleteScrapeJob(ctx context.Context, id uuid.UUID, status string, opts ...JobCompleteOption) error {
	params := &JobCompleteParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM scrape_jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get scrape job status: %w", err)
	}

	allowed := validJobTransitions[currentStatus]
	valid := false
	for _, a := range allowed {
		if a == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid scrape job status transition: %s -> %s", currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE scrape_jobs SET status = $2, completed_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if params.ProgramsFound != nil {
		query += fmt.Sprintf(", programs_found = $%d", argIdx)
		args = append(args, *params.ProgramsFound)
		argIdx++
	}
	if params.ErrorDetail != nil {
		query += fmt.Sprintf(", error_detail = $%d", argIdx)
		args = append(args, *params.ErrorDetail)
		argIdx++
	}
	if params.Checkpoint != nil {
		query += fmt.Sprintf(", current_progress = $%d", argIdx)
		args = append(args, *params.Checkpoint)
		argIdx++
	}

	query += " WHERE id = $1"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("complete scrape job: %w", err)
	}
	return nil
}

// FailStaleScrapeJobs marks jobs stuck in running for longer than olderThan as
// errored. Returns the number of jobs swept.
func (s *PostgresStore) FailStaleScrapeJobs(ctx context.Context, olderThan time.Duration, detail string) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE scrape_jobs SET status = 'error', error_detail = $2, completed_at = NOW()
		 WHERE status = 'running' AND started_at < $1`,
		cutoff, detail)
	if err != nil {
		return 0, fmt.Errorf("fail stale scrape jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Scraped Programs ---

const scrapedProgramColumns = `id, slug, name, software, commission, api_support, category,
	logo_url, review_url, join_url, final_join_url, mapped_to_template, template_id, status,
	last_checked_at, created_at`

func scanScrapedProgram(row pgx.Row) (*models.ScrapedProgram, error) {
	var p models.ScrapedProgram
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Software, &p.Commission, &p.APISupport,
		&p.Category, &p.LogoURL, &p.ReviewURL, &p.JoinURL, &p.FinalJoinURL,
		&p.MappedToTemplate, &p.TemplateID, &p.Status, &p.LastCheckedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertScrapedProgram inserts or refreshes a program by its slug. A re-scrape
// updates the directory-sourced fields and last_checked_at only; resolver and
// export state (final_join_url, mapped_to_template, template_id, status) is
// never clobbered by a scrape pass.
func (s *PostgresStore) UpsertScrapedProgram(ctx context.Context, p *models.ScrapedProgram) (*models.ScrapedProgram, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO scraped_programs (id, slug, name, software, commission, api_support, category,
		   logo_url, review_url, join_url, last_checked_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		 ON CONFLICT (slug) DO UPDATE SET
		   name = EXCLUDED.name,
		   software = EXCLUDED.software,
		   commission = EXCLUDED.commission,
		   api_support = EXCLUDED.api_support,
		   category = EXCLUDED.category,
		   logo_url = EXCLUDED.logo_url,
		   review_url = EXCLUDED.review_url,
		   join_url = EXCLUDED.join_url,
		   last_checked_at = NOW()
		 RETURNING `+scrapedProgramColumns,
		p.ID, p.Slug, p.Name, p.Software, p.Commission, p.APISupport, p.Category,
		p.LogoURL, p.ReviewURL, p.JoinURL)
	result, err := scanScrapedProgram(row)
	if err != nil {
		return nil, fmt.Errorf("upsert scraped program: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) GetScrapedProgram(ctx context.Context, id uuid.UUID) (*models.ScrapedProgram, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scrapedProgramColumns+` FROM scraped_programs WHERE id = $1`, id)
	p, err := scanScrapedProgram(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scraped program: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListUnmappedPrograms(ctx context.Context, onlyWithAPI bool, limit int) ([]*models.ScrapedProgram, error) {
	query := `SELECT ` + scrapedProgramColumns + ` FROM scraped_programs WHERE NOT mapped_to_template`
	if onlyWithAPI {
		query += ` AND api_support`
	}
	query += ` ORDER BY name`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unmapped programs: %w", err)
	}
	defer rows.Close()

	var programs []*models.ScrapedProgram
	for rows.Next() {
		p, err := scanScrapedProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scraped program: %w", err)
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

func (s *PostgresStore) SetFinalJoinURL(ctx context.Context, id uuid.UUID, finalURL string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraped_programs SET final_join_url = $2 WHERE id = $1`, id, finalURL)
	if err != nil {
		return fmt.Errorf("set final join url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkProgramMapped(ctx context.Context, id uuid.UUID, templateID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scraped_programs
		 SET mapped_to_template = TRUE, template_id = $2, status = 'added_as_template'
		 WHERE id = $1`, id, templateID)
	if err != nil {
		return fmt.Errorf("mark program mapped: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Program Templates ---

const templateColumns = `id, name, software_key, auth_mode, base_url, login_url,
	label_api_key, label_username, label_password, referral_url, is_active, display_order,
	created_at, updated_at`

const templateColumnsPrefixed = `t.id, t.name, t.software_key, t.auth_mode, t.base_url, t.login_url,
	t.label_api_key, t.label_username, t.label_password, t.referral_url, t.is_active, t.display_order,
	t.created_at, t.updated_at`

func scanTemplate(row pgx.Row) (*models.ProgramTemplate, error) {
	var t models.ProgramTemplate
	err := row.Scan(&t.ID, &t.Name, &t.SoftwareKey, &t.AuthMode, &t.BaseURL, &t.LoginURL,
		&t.LabelAPIKey, &t.LabelUsername, &t.LabelPassword, &t.ReferralURL,
		&t.IsActive, &t.DisplayOrder, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, t *models.ProgramTemplate) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO program_templates (id, name, software_key, auth_mode, base_url, login_url,
		   label_api_key, label_username, label_password, referral_url, is_active, display_order,
		   created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.Name, t.SoftwareKey, t.AuthMode, t.BaseURL, t.LoginURL,
		t.LabelAPIKey, t.LabelUsername, t.LabelPassword, t.ReferralURL,
		t.IsActive, t.DisplayOrder, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id uuid.UUID) (*models.ProgramTemplate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM program_templates WHERE id = $1`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// FindTemplateByNameOrKey resolves a template by case-insensitive name first,
// falling back to an exact software-key match. Returns ErrNotFound when
// neither matches.
func (s *PostgresStore) FindTemplateByNameOrKey(ctx context.Context, name, softwareKey string) (*models.ProgramTemplate, error) {
	if name != "" {
		row := s.pool.QueryRow(ctx,
			`SELECT `+templateColumns+` FROM program_templates WHERE LOWER(name) = LOWER($1) LIMIT 1`, name)
		t, err := scanTemplate(row)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("find template by name: %w", err)
		}
	}

	if softwareKey != "" {
		row := s.pool.QueryRow(ctx,
			`SELECT `+templateColumns+` FROM program_templates WHERE software_key = $1 LIMIT 1`, softwareKey)
		t, err := scanTemplate(row)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("find template by software key: %w", err)
		}
	}

	return nil, ErrNotFound
}

func (s *PostgresStore) ListTemplates(ctx context.Context, filter TemplateFilter) ([]*models.ProgramTemplate, int, error) {
	conditions := []string{"t.is_active"}
	args := []any{}
	argIdx := 1
	from := "program_templates t"
	orderBy := "t.display_order, t.name"

	switch filter.Filter {
	case "selected":
		from += " JOIN user_program_selections s ON s.template_id = t.id"
		conditions = append(conditions, fmt.Sprintf("s.user_id = $%d", argIdx))
		args = append(args, filter.UserID)
		argIdx++
	case "recent":
		orderBy = "t.created_at DESC"
	case "software":
		conditions = append(conditions, fmt.Sprintf("t.software_key = $%d", argIdx))
		args = append(args, filter.Software)
		argIdx++
	}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("t.name ILIKE $%d", argIdx))
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", from, where)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT $%d`,
		templateColumnsPrefixed, from, where, orderBy, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.ProgramTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, total, rows.Err()
}

// --- Selections ---

// UpsertSelection records a selection for the (user, template) pair. Re-adding
// an existing selection is a no-op.
func (s *PostgresStore) UpsertSelection(ctx context.Context, sel *models.UserProgramSelection) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_program_selections (user_id, template_id, source, selected_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, template_id) DO NOTHING`,
		sel.UserID, sel.TemplateID, sel.Source, sel.SelectedAt)
	if err != nil {
		return fmt.Errorf("upsert selection: %w", err)
	}
	return nil
}

// DeleteSelection removes a selection. Deleting a selection that does not
// exist is a no-op.
func (s *PostgresStore) DeleteSelection(ctx context.Context, userID, templateID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_program_selections WHERE user_id = $1 AND template_id = $2`,
		userID, templateID)
	if err != nil {
		return fmt.Errorf("delete selection: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSelections(ctx context.Context, userID uuid.UUID) ([]*models.SelectedProgram, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.template_id, t.name, t.software_key, s.source, s.selected_at
		 FROM user_program_selections s
		 JOIN program_templates t ON t.id = s.template_id
		 WHERE s.user_id = $1
		 ORDER BY s.selected_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	defer rows.Close()

	var selections []*models.SelectedProgram
	for rows.Next() {
		var sp models.SelectedProgram
		if err := rows.Scan(&sp.TemplateID, &sp.Name, &sp.SoftwareKey, &sp.Source, &sp.SelectedAt); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		selections = append(selections, &sp)
	}
	return selections, rows.Err()
}

func (s *PostgresStore) SelectedTemplateIDs(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT template_id FROM user_program_selections WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("selected template ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan template id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
