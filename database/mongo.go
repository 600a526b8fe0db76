package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"channel-sync-backend/models"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const (
	channelsCollection   = "channels"
	defaultRetryInterval = 2 * time.Second
	mongoConnectAttempts = 3
)

// MongoStore keeps one document per channel with its videos embedded,
// so every mutation is a single-document atomic update.
type MongoStore struct {
	client   *mongo.Client
	channels *mongo.Collection
}

// NewMongoStore connects to uri and prepares the channels collection.
// The first ping is retried to ride out cold starts.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second))
	if err != nil {
		return nil, models.Unavailable("mongo connect", err)
	}

	for attempt := 1; ; attempt++ {
		err = client.Ping(ctx, readpref.Primary())
		if err == nil {
			break
		}
		if attempt == mongoConnectAttempts {
			_ = client.Disconnect(context.Background())
			return nil, models.Unavailable("mongo ping", err)
		}
		select {
		case <-ctx.Done():
			_ = client.Disconnect(context.Background())
			return nil, ctx.Err()
		case <-time.After(defaultRetryInterval):
		}
	}

	coll := client.Database(dbName).Collection(channelsCollection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, models.Unavailable("mongo index", err)
	}
	return &MongoStore{client: client, channels: coll}, nil
}

func (s *MongoStore) ListChannels(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.D{{Key: "name", Value: 1}}).
		SetSort(bson.D{{Key: "name", Value: 1}})
	cur, err := s.channels.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, models.Unavailable("mongo list channels", err)
	}
	defer cur.Close(ctx)

	names := []string{}
	for cur.Next(ctx) {
		var doc struct {
			Name string `bson:"name"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, models.Unavailable("mongo decode channel", err)
		}
		names = append(names, doc.Name)
	}
	if err := cur.Err(); err != nil {
		return nil, models.Unavailable("mongo list channels", err)
	}
	return names, nil
}

func (s *MongoStore) CreateChannel(ctx context.Context, name string) (bool, error) {
	res, err := s.channels.UpdateOne(ctx,
		bson.D{{Key: "name", Value: name}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{
			{Key: "videos", Value: bson.A{}},
			{Key: "selected", Value: ""},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		// a concurrent upsert on the unique index lost the race; the channel exists
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, models.Unavailable("mongo create channel", err)
	}
	return res.UpsertedCount == 1, nil
}

func (s *MongoStore) GetChannel(ctx context.Context, name string) (*models.Channel, error) {
	var ch models.Channel
	err := s.channels.FindOne(ctx, bson.D{{Key: "name", Value: name}}).Decode(&ch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, models.Unavailable("mongo get channel", err)
	}
	if ch.Videos == nil {
		ch.Videos = []models.Video{}
	}
	models.SortVideos(ch.Videos)
	return &ch, nil
}

func (s *MongoStore) ListVideos(ctx context.Context, channel string) ([]models.Video, error) {
	ch, err := s.GetChannel(ctx, channel)
	if errors.Is(err, models.ErrNotFound) {
		return []models.Video{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ch.Videos, nil
}

func (s *MongoStore) InsertVideoIfAbsent(ctx context.Context, channel string, v models.Video) (models.Video, bool, error) {
	if _, err := s.CreateChannel(ctx, channel); err != nil {
		return models.Video{}, false, err
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	// the url filter makes the push conditional, so two racing inserts of the
	// same url leave exactly one record
	res, err := s.channels.UpdateOne(ctx,
		bson.D{
			{Key: "name", Value: channel},
			{Key: "videos.url", Value: bson.D{{Key: "$ne", Value: v.URL}}},
		},
		bson.D{{Key: "$push", Value: bson.D{{Key: "videos", Value: v}}}},
	)
	if err != nil {
		return models.Video{}, false, models.Unavailable("mongo insert video", err)
	}
	if res.ModifiedCount == 1 {
		return v, true, nil
	}

	existing, err := s.findByURL(ctx, channel, v.URL)
	if err != nil {
		return models.Video{}, false, err
	}
	return existing, false, nil
}

func (s *MongoStore) findByURL(ctx context.Context, channel, url string) (models.Video, error) {
	var doc struct {
		Videos []models.Video `bson:"videos"`
	}
	err := s.channels.FindOne(ctx,
		bson.D{{Key: "name", Value: channel}},
		options.FindOne().SetProjection(bson.D{{Key: "videos", Value: bson.D{
			{Key: "$elemMatch", Value: bson.D{{Key: "url", Value: url}}},
		}}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && len(doc.Videos) == 0) {
		return models.Video{}, fmt.Errorf("%w: video with url %q", models.ErrNotFound, url)
	}
	if err != nil {
		return models.Video{}, models.Unavailable("mongo find video", err)
	}
	return doc.Videos[0], nil
}

func (s *MongoStore) UpdateVideo(ctx context.Context, channel, id string, patch models.VideoPatch) (models.Video, error) {
	set := bson.D{}
	field := func(name string, value any) {
		set = append(set, bson.E{Key: "videos.$[v]." + name, Value: value})
	}
	if patch.URL != nil {
		field("url", *patch.URL)
	}
	if patch.Title != nil {
		field("title", *patch.Title)
	}
	if patch.Author != nil {
		field("author", *patch.Author)
	}
	if patch.Description != nil {
		field("description", *patch.Description)
	}
	if patch.Duration != nil {
		field("duration", *patch.Duration)
	}
	if patch.Thumbnail != nil {
		field("thumbnail", *patch.Thumbnail)
	}
	if patch.Loaded != nil {
		field("loaded", *patch.Loaded)
	}
	if len(set) == 0 {
		ch, err := s.GetChannel(ctx, channel)
		if err != nil {
			return models.Video{}, err
		}
		if v, ok := ch.Find(id); ok {
			return v, nil
		}
		return models.Video{}, models.ErrNotFound
	}

	filter := bson.D{
		{Key: "name", Value: channel},
		{Key: "videos.id", Value: id},
	}
	if patch.URL != nil {
		filter = append(filter, bson.E{Key: "videos", Value: bson.D{{Key: "$not", Value: bson.D{
			{Key: "$elemMatch", Value: bson.D{
				{Key: "url", Value: *patch.URL},
				{Key: "id", Value: bson.D{{Key: "$ne", Value: id}}},
			}},
		}}}})
	}

	var ch models.Channel
	err := s.channels.FindOneAndUpdate(ctx, filter,
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().
			SetArrayFilters([]any{bson.D{{Key: "v.id", Value: id}}}).
			SetReturnDocument(options.After),
	).Decode(&ch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if patch.URL != nil {
			if cur, gerr := s.GetChannel(ctx, channel); gerr == nil {
				if _, ok := cur.Find(id); ok {
					return models.Video{}, models.ErrDuplicateURL
				}
			}
		}
		return models.Video{}, models.ErrNotFound
	}
	if err != nil {
		return models.Video{}, models.Unavailable("mongo update video", err)
	}
	v, ok := ch.Find(id)
	if !ok {
		return models.Video{}, models.ErrNotFound
	}
	return v, nil
}

func (s *MongoStore) RemoveVideo(ctx context.Context, channel, id string) (*models.Video, error) {
	// one pipeline stage drops the video and clears the selection if it pointed at it
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "selected", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$selected", id}}}, "", "$selected",
			}}}},
			{Key: "videos", Value: bson.D{{Key: "$filter", Value: bson.D{
				{Key: "input", Value: "$videos"},
				{Key: "as", Value: "v"},
				{Key: "cond", Value: bson.D{{Key: "$ne", Value: bson.A{"$$v.id", id}}}},
			}}}},
		}}},
	}

	var before models.Channel
	err := s.channels.FindOneAndUpdate(ctx,
		bson.D{{Key: "name", Value: channel}, {Key: "videos.id", Value: id}},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Unavailable("mongo remove video", err)
	}
	v, ok := before.Find(id)
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *MongoStore) SelectVideo(ctx context.Context, channel, id string) error {
	res, err := s.channels.UpdateOne(ctx,
		bson.D{{Key: "name", Value: channel}, {Key: "videos.id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "selected", Value: id}}}},
	)
	if err != nil {
		return models.Unavailable("mongo select video", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *MongoStore) ClearSelection(ctx context.Context, channel string) error {
	_, err := s.channels.UpdateOne(ctx,
		bson.D{{Key: "name", Value: channel}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "selected", Value: ""}}}},
	)
	return models.Unavailable("mongo clear selection", err)
}

func (s *MongoStore) Selection(ctx context.Context, channel string) (string, error) {
	var doc struct {
		Selected string `bson:"selected"`
	}
	err := s.channels.FindOne(ctx,
		bson.D{{Key: "name", Value: channel}},
		options.FindOne().SetProjection(bson.D{{Key: "selected", Value: 1}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", models.Unavailable("mongo selection", err)
	}
	return doc.Selected, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return models.Unavailable("mongo ping", s.client.Ping(ctx, readpref.Primary()))
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
