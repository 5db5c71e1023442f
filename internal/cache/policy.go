package cache

// Mutation names a server write that affects cached, cross-device visible
// data.
type Mutation int

const (
	ConversationCreated Mutation = iota
	ConversationUpdated
	ConversationDeleted
	MessageCreated
	MessageUpdated
	MessageDeleted
	TitleGenerated
	ProjectCreated
	ProjectRenamed
	ProjectDeleted
	ProjectLinked
	ProjectUnlinked
	ShareCreated
	ShareDeleted
)

func (m Mutation) String() string {
	switch m {
	case ConversationCreated:
		return "conversation.created"
	case ConversationUpdated:
		return "conversation.updated"
	case ConversationDeleted:
		return "conversation.deleted"
	case MessageCreated:
		return "message.created"
	case MessageUpdated:
		return "message.updated"
	case MessageDeleted:
		return "message.deleted"
	case TitleGenerated:
		return "title.generated"
	case ProjectCreated:
		return "project.created"
	case ProjectRenamed:
		return "project.renamed"
	case ProjectDeleted:
		return "project.deleted"
	case ProjectLinked:
		return "project.linked"
	case ProjectUnlinked:
		return "project.unlinked"
	case ShareCreated:
		return "share.created"
	case ShareDeleted:
		return "share.deleted"
	}
	return "unknown"
}

// Scope identifies whose entries a mutation touches. ConversationID is
// required for mutations that invalidate a preview.
type Scope struct {
	UserID         string
	ConversationID string
}

type keyKind int

const (
	kindTitles keyKind = iota
	kindPreview
	kindProjects
	kindProjectMeta
	kindShared
)

var policy = map[Mutation][]keyKind{
	ConversationCreated: {kindTitles},
	ConversationUpdated: {kindTitles, kindPreview, kindShared},
	ConversationDeleted: {kindTitles, kindPreview, kindProjects, kindProjectMeta, kindShared},
	MessageCreated:      {kindTitles, kindPreview},
	MessageUpdated:      {kindTitles, kindPreview},
	MessageDeleted:      {kindTitles, kindPreview},
	TitleGenerated:      {kindTitles, kindShared},
	ProjectCreated:      {kindProjects, kindProjectMeta},
	ProjectRenamed:      {kindProjects, kindProjectMeta},
	ProjectDeleted:      {kindProjects, kindProjectMeta},
	ProjectLinked:       {kindProjects, kindProjectMeta},
	ProjectUnlinked:     {kindProjects, kindProjectMeta},
	ShareCreated:        {kindShared},
	ShareDeleted:        {kindShared},
}

// KeysFor returns the cache keys a mutation invalidates.
func KeysFor(m Mutation, s Scope) []string {
	kinds := policy[m]
	keys := make([]string, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case kindTitles:
			keys = append(keys, TitlesKey(s.UserID))
		case kindPreview:
			if s.ConversationID != "" {
				keys = append(keys, PreviewKey(s.ConversationID))
			}
		case kindProjects:
			keys = append(keys, ProjectsKey(s.UserID))
		case kindProjectMeta:
			keys = append(keys, ProjectMetaKey(s.UserID))
		case kindShared:
			keys = append(keys, SharedKey(s.UserID))
		}
	}
	return keys
}
