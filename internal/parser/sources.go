package parser

// epravda.com.ua
var epravdaLayout = newsLayout{
	source: SourceEpravda,

	listContainer: Chain{
		CSS(`div.news_list`),
		XPath(`//div[contains(@class, "news_list")]`),
	},
	listItem: Chain{
		CSS(`div.article_news`),
		XPath(`.//div[contains(@class, "article")]`),
	},
	itemLink: Chain{
		CSS(`div.article__title a[href]`),
		XPath(`.//a[contains(@href, "/news/")]`),
	},
	itemTitle: Chain{CSS(`div.article__title`)},
	itemTime:  Chain{CSS(`div.article__time`), CSS(`time`)},

	articleTitle: Chain{
		CSS(`h1.post__title`),
		XPath(`//h1[contains(@class, "title")]`),
	},
	articleBody: Chain{
		CSS(`div.post__text p`),
		XPath(`//div[contains(@class, "post__text")]//p`),
	},
	articleImages: Chain{
		CSS(`div.post__photo img`),
		CSS(`div.post__text img`),
	},
	articleTime: Chain{
		CSS(`div.post__time time`),
		CSS(`div.post__time`),
	},
	articleAuthor: Chain{
		CSS(`span.post__author a`),
		CSS(`span.post__author`),
	},
	articleViews:    Chain{CSS(`span.post__views`)},
	articleComments: Chain{CSS(`div.comments__item div.comments__text`)},
	articleVideo:    Chain{CSS(`div.post__text iframe[src]`)},
}

// politeka.net
var politekaLayout = newsLayout{
	source: SourcePoliteka,

	listContainer: Chain{
		CSS(`div.newsfeed-list`),
		XPath(`//div[contains(@class, "newsfeed")]`),
	},
	listItem: Chain{
		CSS(`div.b_post`),
		XPath(`.//div[contains(@class, "b_post")]`),
	},
	itemLink: Chain{
		CSS(`a.b_post--link[href]`),
		XPath(`.//a[@href]`),
	},
	itemTitle: Chain{CSS(`.b_post--title`)},
	itemTime:  Chain{CSS(`time[datetime]`), CSS(`.b_post--date`)},

	articleTitle: Chain{
		CSS(`h1.b_post--title`),
		CSS(`article h1`),
	},
	articleBody: Chain{
		CSS(`div.b_post--text p`),
		XPath(`//article//div[contains(@class, "text")]//p`),
	},
	articleImages: Chain{
		CSS(`div.b_post--image img`),
		CSS(`div.b_post--text img`),
	},
	articleTime: Chain{
		CSS(`div.b_post--date time[datetime]`),
		CSS(`div.b_post--date`),
	},
	articleAuthor: Chain{
		CSS(`div.b_post--author a`),
		CSS(`div.b_post--author`),
	},
	articleViews:    Chain{CSS(`span.b_post--views`)},
	articleComments: Chain{CSS(`div.b_comment div.b_comment--text`)},
	articleLikes:    Chain{CSS(`span.b_reactions--like`)},
	articleDislikes: Chain{CSS(`span.b_reactions--dislike`)},
	articleVideo:    Chain{CSS(`div.b_post--text iframe[src]`), CSS(`video source[src]`)},
}

// pravda.com.ua
var pravdaLayout = newsLayout{
	source: SourcePravda,

	listContainer: Chain{
		CSS(`div.container_sub_news_list_wrapper`),
		XPath(`//div[contains(@class, "news_list")]`),
	},
	listItem: Chain{
		CSS(`div.article_news_list`),
		XPath(`.//div[contains(@class, "article_news")]`),
	},
	itemLink: Chain{
		CSS(`div.article_title a[href]`),
		XPath(`.//a[contains(@href, "/news/")]`),
	},
	itemTitle: Chain{CSS(`div.article_title`)},
	itemTime:  Chain{CSS(`div.article_time`)},

	articleTitle: Chain{
		CSS(`h1.post_title`),
		XPath(`//h1[contains(@class, "title")]`),
	},
	articleBody: Chain{
		CSS(`div.post_text p`),
		XPath(`//div[contains(@class, "post_text")]//p`),
	},
	articleImages: Chain{
		CSS(`div.post_photo_news img`),
		CSS(`div.post_text img`),
	},
	articleTime: Chain{
		CSS(`div.post_time`),
		XPath(`//div[contains(@class, "post_time")]`),
	},
	articleAuthor: Chain{
		CSS(`span.post_author a`),
		CSS(`span.post_author`),
	},
	articleViews: Chain{CSS(`div.post_views`)},
	articleVideo: Chain{CSS(`div.post_text iframe[src]`)},
}

// NewEpravdaStrategy returns the epravda.com.ua news strategy.
func NewEpravdaStrategy() NewsStrategy { return newNewsStrategy(epravdaLayout) }

// NewPolitekaStrategy returns the politeka.net news strategy.
func NewPolitekaStrategy() NewsStrategy { return newNewsStrategy(politekaLayout) }

// NewPravdaStrategy returns the pravda.com.ua news strategy.
func NewPravdaStrategy() NewsStrategy { return newNewsStrategy(pravdaLayout) }
