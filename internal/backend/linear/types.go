package linear

import "time"

// issueNode is the GraphQL selection shared by every issue-returning
// operation. Estimate, cycle, parent and due date feed the semantic
// field translation; the rest maps onto the shared issue shape.
const issueSelection = `
	id
	identifier
	title
	description
	url
	createdAt
	updatedAt
	priorityLabel
	estimate
	dueDate
	state { id name }
	assignee { id name displayName }
	team { id key name }
	cycle { id name }
	parent { id identifier }
`

const queryViewer = `query { viewer { id name displayName email } }`

const queryIssue = `query Issue($id: String!) {
	issue(id: $id) {` + issueSelection + `}
}`

const queryIssues = `query Issues($filter: IssueFilter, $first: Int!) {
	issues(filter: $filter, first: $first) {
		nodes {` + issueSelection + `}
	}
}`

const queryTeamByKey = `query TeamByKey($key: String!) {
	teams(filter: { key: { eq: $key } }, first: 1) {
		nodes { id key name }
	}
}`

const queryTeams = `query { teams { nodes { id key name } } }`

const queryWorkflowStates = `query { workflowStates { nodes { id name } } }`

const queryCycles = `query { cycles { nodes { id name number } } }`

const queryIssueStates = `query IssueStates($id: String!) {
	issue(id: $id) {
		id
		state { id name }
		team {
			states { nodes { id name } }
		}
	}
}`

const mutationIssueCreate = `mutation IssueCreate($input: IssueCreateInput!) {
	issueCreate(input: $input) {
		success
		issue {` + issueSelection + `}
	}
}`

const mutationIssueUpdate = `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
	issueUpdate(id: $id, input: $input) { success }
}`

const mutationCommentCreate = `mutation CommentCreate($input: CommentCreateInput!) {
	commentCreate(input: $input) { success }
}`

// node shapes for unmarshalling.

type namedNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type teamNode struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

type userNode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type issueNode struct {
	ID            string     `json:"id"`
	Identifier    string     `json:"identifier"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	URL           string     `json:"url"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	PriorityLabel string     `json:"priorityLabel"`
	Estimate      *float64   `json:"estimate"`
	DueDate       string     `json:"dueDate"`
	State         *namedNode `json:"state"`
	Assignee      *userNode  `json:"assignee"`
	Team          *teamNode  `json:"team"`
	Cycle         *namedNode `json:"cycle"`
	Parent        *struct {
		ID         string `json:"id"`
		Identifier string `json:"identifier"`
	} `json:"parent"`
}
