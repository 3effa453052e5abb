package domain

var practiceQuestions = []string{
	"Tell me about yourself and your background.",
	"What are your greatest strengths?",
	"Describe a challenging situation you faced at work and how you handled it.",
	"Where do you see yourself in 5 years?",
	"Why do you want to work at our company?",
}

var roomQuestions = []string{
	"Walk me through a project you are proud of.",
	"How do you approach debugging a production issue?",
	"Tell me about a time you disagreed with a teammate.",
	"How do you prioritise competing deadlines?",
	"What questions do you have for us?",
}

// QuestionsFor returns the question bank of a flow. The lobby has none.
func QuestionsFor(flow FlowKind) []string {
	switch flow {
	case FlowPractice:
		return practiceQuestions
	case FlowRoom:
		return roomQuestions
	}
	return nil
}
