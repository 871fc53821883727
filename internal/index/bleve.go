package index

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"go.uber.org/zap"

	"taskmcp-go/internal/storage"
)

// analyzerKeywordLower keeps each field a single token but folds case, so
// wildcard queries behave like a case-insensitive substring match.
const analyzerKeywordLower = "keyword_lower"

// maxSearchHits bounds how many candidates one search can return. Final
// ordering and limits are applied by the caller over storage records.
const maxSearchHits = 10000

// TaskIndex wraps Bleve index operations for task search
type TaskIndex struct {
	index  bleve.Index
	logger *zap.SugaredLogger
}

// TaskDocument is the indexed projection of a task. Only the searchable
// text and the owner make it into the index; everything else stays in
// storage.
type TaskDocument struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Notes  string `json:"notes"`
}

// NewTaskIndex opens the task index at dataDir, creating it on first use
func NewTaskIndex(dataDir string, logger *zap.SugaredLogger) (*TaskIndex, error) {
	indexPath := filepath.Join(dataDir, "index.bleve")

	idx, err := bleve.Open(indexPath)
	if err != nil {
		logger.Infow("Creating new task index", "path", indexPath)
		idx, err = createTaskIndex(indexPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create task index: %w", err)
		}
	} else {
		logger.Infow("Opened existing task index", "path", indexPath)
	}

	return &TaskIndex{
		index:  idx,
		logger: logger,
	}, nil
}

func createTaskIndex(indexPath string) (bleve.Index, error) {
	indexMapping := bleve.NewIndexMapping()
	if err := indexMapping.AddCustomAnalyzer(analyzerKeywordLower, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("failed to register analyzer: %w", err)
	}

	taskMapping := bleve.NewDocumentMapping()

	// Owner field, exact match only
	userField := bleve.NewTextFieldMapping()
	userField.Analyzer = keyword.Name
	userField.Store = false
	userField.IncludeInAll = false
	taskMapping.AddFieldMappingsAt("user_id", userField)

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = analyzerKeywordLower
	titleField.Store = false
	taskMapping.AddFieldMappingsAt("title", titleField)

	notesField := bleve.NewTextFieldMapping()
	notesField.Analyzer = analyzerKeywordLower
	notesField.Store = false
	taskMapping.AddFieldMappingsAt("notes", notesField)

	indexMapping.AddDocumentMapping("task", taskMapping)
	indexMapping.DefaultMapping = taskMapping

	return bleve.New(indexPath, indexMapping)
}

// Close closes the index
func (b *TaskIndex) Close() error {
	return b.index.Close()
}

// IndexTask indexes a task document, replacing any previous version
func (b *TaskIndex) IndexTask(task *storage.TaskRecord) error {
	doc := &TaskDocument{
		UserID: task.UserID,
		Title:  task.Title,
		Notes:  task.Notes,
	}
	docID := strconv.FormatInt(task.ID, 10)

	b.logger.Debugw("Indexing task", "doc_id", docID)
	return b.index.Index(docID, doc)
}

// DeleteTask removes a task from the index
func (b *TaskIndex) DeleteTask(id int64) error {
	return b.index.Delete(strconv.FormatInt(id, 10))
}

// SearchIDs returns the ids of the user's tasks whose title or notes
// contain the query, case-insensitively. Ordering is by score and carries
// no meaning to callers; they re-sort the loaded records.
func (b *TaskIndex) SearchIDs(userID, query string) ([]int64, error) {
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}

	userQuery := bleve.NewTermQuery(userID)
	userQuery.SetField("user_id")

	pattern := "*" + strings.ToLower(query) + "*"
	titleQuery := bleve.NewWildcardQuery(pattern)
	titleQuery.SetField("title")
	notesQuery := bleve.NewWildcardQuery(pattern)
	notesQuery.SetField("notes")

	combined := bleve.NewConjunctionQuery(
		userQuery,
		bleve.NewDisjunctionQuery(titleQuery, notesQuery),
	)

	searchReq := bleve.NewSearchRequest(combined)
	searchReq.Size = maxSearchHits

	result, err := b.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	ids := make([]int64, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DocCount returns the number of documents in the index
func (b *TaskIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// BatchIndex indexes multiple tasks in a single batch
func (b *TaskIndex) BatchIndex(tasks []*storage.TaskRecord) error {
	batch := b.index.NewBatch()

	for _, task := range tasks {
		doc := &TaskDocument{
			UserID: task.UserID,
			Title:  task.Title,
			Notes:  task.Notes,
		}
		if err := batch.Index(strconv.FormatInt(task.ID, 10), doc); err != nil {
			return fmt.Errorf("failed to stage task %d: %w", task.ID, err)
		}
	}

	b.logger.Debugw("Batch indexing tasks", "count", len(tasks))
	return b.index.Batch(batch)
}

// Reset drops every document from the index
func (b *TaskIndex) Reset() error {
	searchReq := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	searchReq.Size = maxSearchHits

	result, err := b.index.Search(searchReq)
	if err != nil {
		return fmt.Errorf("failed to enumerate documents: %w", err)
	}

	batch := b.index.NewBatch()
	for _, hit := range result.Hits {
		batch.Delete(hit.ID)
	}
	return b.index.Batch(batch)
}
