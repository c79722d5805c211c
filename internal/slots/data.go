package slots

// Shared validation patterns for identifier-shaped slots.
const (
	notionIDPattern = `^[0-9a-fA-F-]{32,36}$`
	uuidPattern     = `^[0-9a-fA-F]{8}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{12}$`
	linearIDPattern = `^[A-Za-z0-9_-]{2,64}$`
)

func intPtr(v int) *int { return &v }
func f64Ptr(v float64) *float64 { return &v }

// BuiltinActionSlotSchemas returns the action-by-action slot contracts for
// every Notion and Linear tool the orchestrator's built-in catalog exposes.
// One schema per action: required/optional slots, their Korean/English
// aliases, and the per-slot validation rule.
func BuiltinActionSlotSchemas() map[string]ActionSlotSchema {
	return map[string]ActionSlotSchema{
		"notion_search": {
			RequiredSlots: []string{"query"},
			OptionalSlots: []string{"page_size"},
			AskOrder:      []string{"query"},
			Aliases: map[string][]string{
				"query":     {"검색어", "키워드", "title"},
				"page_size": {"개수", "수", "limit", "top"},
			},
			ValidationRules: map[string]ValidationRule{
				"query":     {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(200)},
				"page_size": {Type: TypeInteger, Min: f64Ptr(1), Max: f64Ptr(20)},
			},
		},
		"notion_create_page": {
			OptionalSlots: []string{"title", "title_hint", "parent_page_id", "properties"},
			Aliases: map[string][]string{
				"title":          {"제목", "name"},
				"title_hint":     {"title_hint", "제목힌트"},
				"parent_page_id": {"상위페이지", "parent_page_id"},
			},
			ValidationRules: map[string]ValidationRule{
				"title":          {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(100)},
				"title_hint":     {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(100)},
				"parent_page_id": {Type: TypeString, Pattern: notionIDPattern},
			},
		},
		"notion_append_block_children": {
			RequiredSlots: []string{"block_id"},
			OptionalSlots: []string{"children", "content", "content_type"},
			AskOrder:      []string{"block_id"},
			Aliases: map[string][]string{
				"block_id":     {"페이지", "page", "대상페이지", "target_page", "page_id", "block_id"},
				"children":     {"children", "블록목록"},
				"content":      {"본문", "내용", "text"},
				"content_type": {"형식", "타입", "type"},
			},
			ValidationRules: map[string]ValidationRule{
				"block_id":     {Type: TypeString, Pattern: notionIDPattern},
				"content":      {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(4000)},
				"content_type": {Type: TypeString, Enum: []any{"paragraph", "bulleted_list_item", "to_do"}},
			},
		},
		"notion_update_page": {
			RequiredSlots: []string{"page_id"},
			OptionalSlots: []string{"title", "archived", "parent_page_id"},
			AskOrder:      []string{"page_id"},
			Aliases: map[string][]string{
				"page_id":        {"페이지", "page", "target_page"},
				"title":          {"제목", "새제목", "new_title"},
				"archived":       {"삭제", "아카이브", "archive"},
				"parent_page_id": {"상위페이지", "이동할페이지", "parent"},
			},
			ValidationRules: map[string]ValidationRule{
				"page_id":        {Type: TypeString, Pattern: notionIDPattern},
				"title":          {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(100)},
				"archived":       {Type: TypeBoolean},
				"parent_page_id": {Type: TypeString, Pattern: notionIDPattern},
			},
		},
		"notion_query_data_source": {
			RequiredSlots: []string{"data_source_id"},
			OptionalSlots: []string{"page_size", "query"},
			AskOrder:      []string{"data_source_id"},
			Aliases: map[string][]string{
				"data_source_id": {"데이터소스", "datasource", "data_source"},
				"page_size":      {"개수", "수", "limit"},
				"query":          {"검색어", "키워드"},
			},
			ValidationRules: map[string]ValidationRule{
				"data_source_id": {Type: TypeString, Pattern: uuidPattern},
				"page_size":      {Type: TypeInteger, Min: f64Ptr(1), Max: f64Ptr(50)},
				"query":          {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(200)},
			},
		},
		"linear_search_issues": {
			RequiredSlots: []string{"query"},
			OptionalSlots: []string{"first", "team_id"},
			AskOrder:      []string{"query"},
			Aliases: map[string][]string{
				"query":   {"검색어", "키워드", "이슈"},
				"first":   {"개수", "수", "limit"},
				"team_id": {"팀", "team"},
			},
			ValidationRules: map[string]ValidationRule{
				"query":   {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(200)},
				"first":   {Type: TypeInteger, Min: f64Ptr(1), Max: f64Ptr(20)},
				"team_id": {Type: TypeString, Pattern: linearIDPattern},
			},
		},
		"linear_create_issue": {
			RequiredSlots: []string{"title", "team_id"},
			OptionalSlots: []string{"description", "priority"},
			AskOrder:      []string{"title", "team_id"},
			Aliases: map[string][]string{
				"title":       {"제목", "name"},
				"team_id":     {"팀", "team"},
				"description": {"본문", "설명", "내용"},
				"priority":    {"우선순위", "priority"},
			},
			ValidationRules: map[string]ValidationRule{
				"title":       {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(200)},
				"team_id":     {Type: TypeString, Pattern: linearIDPattern},
				"description": {Type: TypeString, MaxLength: intPtr(8000)},
				"priority":    {Type: TypeInteger, Enum: []any{float64(0), float64(1), float64(2), float64(3), float64(4)}},
			},
		},
		"linear_update_issue": {
			RequiredSlots: []string{"issue_id"},
			OptionalSlots: []string{"title", "description", "state_id", "priority"},
			AskOrder:      []string{"issue_id"},
			Aliases: map[string][]string{
				"issue_id":    {"이슈", "issue", "이슈ID"},
				"title":       {"제목", "name"},
				"description": {"본문", "설명", "내용"},
				"state_id":    {"상태", "state"},
				"priority":    {"우선순위", "priority"},
			},
			ValidationRules: map[string]ValidationRule{
				"issue_id":    {Type: TypeString, Pattern: linearIDPattern},
				"title":       {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(200)},
				"description": {Type: TypeString, MaxLength: intPtr(8000)},
				"state_id":    {Type: TypeString, Pattern: linearIDPattern},
				"priority":    {Type: TypeInteger, Enum: []any{float64(0), float64(1), float64(2), float64(3), float64(4)}},
			},
		},
		"linear_create_comment": {
			RequiredSlots: []string{"issue_id", "body"},
			AskOrder:      []string{"issue_id", "body"},
			Aliases: map[string][]string{
				"issue_id": {"이슈", "issue", "이슈ID"},
				"body":     {"코멘트", "댓글", "내용", "본문"},
			},
			ValidationRules: map[string]ValidationRule{
				"issue_id": {Type: TypeString, Pattern: linearIDPattern},
				"body":     {Type: TypeString, MinLength: intPtr(1), MaxLength: intPtr(4000)},
			},
		},
	}
}
