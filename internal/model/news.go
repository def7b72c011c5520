package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ArticleData is the normalized content of one news article.
type ArticleData struct {
	Title       string    `bson:"title"        json:"title"`
	ContentBody string    `bson:"content_body" json:"content_body"`
	ImageURLs   []string  `bson:"image_urls"   json:"image_urls"`
	PublishedAt time.Time `bson:"published_at" json:"published_at"`
	Author      *string   `bson:"author"       json:"author,omitempty"`
	Views       *int      `bson:"views"        json:"views,omitempty"`
	Comments    []string  `bson:"comments"     json:"comments"`
	Likes       *int      `bson:"likes"        json:"likes,omitempty"`
	Dislikes    *int      `bson:"dislikes"     json:"dislikes,omitempty"`
	VideoURL    *string   `bson:"video_url"    json:"video_url,omitempty"`
}

// NewsItem is one stored article keyed by its URL.
type NewsItem struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SourceURL    string             `bson:"source_url"    json:"url"`
	ArticleData  ArticleData        `bson:"article_data"  json:"article_data"`
	SourceDomain string             `bson:"source_domain" json:"source_domain"`
	CreatedAt    time.Time          `bson:"created_at"    json:"created_at"`
}
