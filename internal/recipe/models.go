package recipe

// Ingredient is a catalogue ingredient.
type Ingredient struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	FdcID string `json:"fdc_id,omitempty"`
}

// Unit is a measurement unit.
type Unit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RecipeIngredient is one ingredient line of a recipe. Quantity is per serving.
type RecipeIngredient struct {
	ID           int64       `json:"id"`
	IngredientID int64       `json:"ingredient_id"`
	Ingredient   *Ingredient `json:"ingredient,omitempty"`
	Quantity     float64     `json:"quantity"`
	Unit         *Unit       `json:"unit,omitempty"`
}

// Recipe is a recipe as served by the recipes endpoint.
type Recipe struct {
	ID                int64              `json:"id"`
	Title             string             `json:"title"`
	Slug              string             `json:"slug,omitempty"`
	AuthorUsername    string             `json:"author_username,omitempty"`
	Content           string             `json:"content"`
	CreatedOn         string             `json:"created_on,omitempty"`
	UpdatedOn         string             `json:"updated_on,omitempty"`
	Image             string             `json:"image,omitempty"`
	AverageRating     *float64           `json:"average_rating,omitempty"`
	RatingCount       int                `json:"rating_count,omitempty"`
	RecipeIngredients []RecipeIngredient `json:"recipe_ingredients,omitempty"`
}

// Rating is a user's rating of a recipe, on the backend's 0-10 scale.
type Rating struct {
	ID             int64  `json:"id"`
	Recipe         int64  `json:"recipe"`
	AuthorUsername string `json:"author_username"`
	Rating         int    `json:"rating"`
	Comment        string `json:"comment"`
	CreatedOn      string `json:"created_on"`
	UpdatedOn      string `json:"updated_on"`
}

// EventType enumerates activity feed events.
type EventType string

const (
	EventNewRecipe    EventType = "new_recipe"
	EventUpdateRecipe EventType = "update_recipe"
	EventNewRating    EventType = "new_rating"
	EventUpdateRating EventType = "update_rating"
)

// FeedEvent is one entry of the activity feed.
type FeedEvent struct {
	ID           int64     `json:"id"`
	UserUsername string    `json:"user_username"`
	EventType    EventType `json:"event_type"`
	CreatedOn    string    `json:"created_on"`
	Recipe       Recipe    `json:"recipe"`
	Rating       *Rating   `json:"rating"`
	LikeCount    int       `json:"like_count"`
	IsLiked      bool      `json:"is_liked"`
	CommentCount int       `json:"comment_count"`
}

// UserSummary is the profile returned by the session status endpoint.
type UserSummary struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	IsSuperuser    bool   `json:"is_superuser"`
	FollowerCount  int    `json:"follower_count"`
	FollowingCount int    `json:"following_count"`
}

// SearchedUser is a user search result.
type SearchedUser struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	IsFollowing bool   `json:"is_following"`
}
