package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/todoman/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDBのコレクション名
const (
	mongoUsersCollection    = "users"
	mongoTodosCollection    = "todos"
	mongoSessionsCollection = "sessions"
)

// userDoc はusersコレクションのドキュメント。
type userDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Username  string             `bson:"username"`
	Password  string             `bson:"password"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func (d *userDoc) toModel() *model.User {
	return &model.User{
		ID:           d.ID.Hex(),
		Username:     d.Username,
		PasswordHash: d.Password,
		CreatedAt:    d.CreatedAt,
	}
}

// todoDoc はtodosコレクションのドキュメント。
// userIdはusersの_idを参照するObjectID。
type todoDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Priority    string             `bson:"priority"`
	Completed   bool               `bson:"completed"`
	UserID      primitive.ObjectID `bson:"userId"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func (d *todoDoc) toModel() *model.Todo {
	priority := model.Priority(d.Priority)
	if priority == "" {
		priority = model.DefaultPriority
	}
	return &model.Todo{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Priority:    priority,
		Completed:   d.Completed,
		UserID:      d.UserID.Hex(),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// sessionDoc はsessionsコレクションのドキュメント。
type sessionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	ExpiresAt time.Time `bson:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt"`
}

// EnsureMongoIndexes はコレクションに必要なインデックスを作成する。
// 既に存在する場合は何もしない。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(mongoUsersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}

	_, err = db.Collection(mongoTodosCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create todos index: %w", err)
	}

	// 期限切れセッションはTTLインデックスでも自動削除される
	_, err = db.Collection(mongoSessionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create sessions index: %w", err)
	}

	return nil
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	coll *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{coll: db.Collection(mongoUsersCollection)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindByUsername はユーザー名でユーザーを検索する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.M) (*model.User, error) {
	var doc userDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return doc.toModel(), nil
}

// Create はユーザーを作成する。ユーザー名の一意性はユニークインデックスで保証する。
func (r *MongoUserRepo) Create(ctx context.Context, username, passwordHash string) (*model.User, error) {
	doc := userDoc{
		ID:        primitive.NewObjectID(),
		Username:  username,
		Password:  passwordHash,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return doc.toModel(), nil
}

// MongoTodoRepo はMongoDBを使用したタスクリポジトリ。
// 一覧はcreatedAt、同時刻は_idの昇順で返し、他のバックエンドと同じく作成順とする。
// ObjectIDの時刻は秒単位でプロセスをまたぐと順序が保証されないため、_idだけでは並べない。
type MongoTodoRepo struct {
	coll *mongo.Collection
}

// NewMongoTodoRepo はMongoTodoRepoを生成する。
func NewMongoTodoRepo(db *mongo.Database) *MongoTodoRepo {
	return &MongoTodoRepo{coll: db.Collection(mongoTodosCollection)}
}

// ListByOwner は指定ユーザーのタスクを作成順で返す。
func (r *MongoTodoRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Todo, error) {
	todos := []*model.Todo{}
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return todos, nil
	}

	cur, err := r.coll.Find(ctx,
		bson.M{"userId": oid},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc todoDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode todo: %w", err)
		}
		todos = append(todos, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos: %w", err)
	}

	return todos, nil
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *MongoTodoRepo) FindByID(ctx context.Context, id string) (*model.Todo, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var doc todoDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find todo: %w", err)
	}
	return doc.toModel(), nil
}

// Create はタスクを作成する。
func (r *MongoTodoRepo) Create(ctx context.Context, input model.NewTodo, userID string) (*model.Todo, error) {
	owner, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid owner ID %q: %w", userID, err)
	}

	todo := newTodo(input, userID)
	now := time.Now().UTC()
	doc := todoDoc{
		ID:          primitive.NewObjectID(),
		Title:       todo.Title,
		Description: todo.Description,
		Priority:    string(todo.Priority),
		Completed:   false,
		UserID:      owner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert todo: %w", err)
	}
	return doc.toModel(), nil
}

// Update はpatchの非nilフィールドを$setで更新し、更新後のドキュメントを返す。
func (r *MongoTodoRepo) Update(ctx context.Context, id string, patch model.TodoPatch) (*model.Todo, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Priority != nil {
		set["priority"] = string(*patch.Priority)
	}
	if patch.Completed != nil {
		set["completed"] = *patch.Completed
	}

	var doc todoDoc
	err = r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update todo: %w", err)
	}
	return doc.toModel(), nil
}

// DeleteByID は指定IDのタスクを削除する。
// 削除件数が0の場合も他のバックエンドと同じくErrNotFoundを返す。
func (r *MongoTodoRepo) DeleteByID(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete todo: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MongoSessionRepo はMongoDBを使用したセッションリポジトリ。
type MongoSessionRepo struct {
	coll *mongo.Collection
}

// NewMongoSessionRepo はMongoSessionRepoを生成する。
func NewMongoSessionRepo(db *mongo.Database) *MongoSessionRepo {
	return &MongoSessionRepo{coll: db.Collection(mongoSessionsCollection)}
}

// Create はセッションを作成する。
func (r *MongoSessionRepo) Create(ctx context.Context, session *model.Session) error {
	doc := sessionDoc{
		ID:        session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt.UTC(),
		CreatedAt: session.CreatedAt.UTC(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
// TTLインデックスによる削除は遅延するため、期限はクエリ条件でも確認する。
func (r *MongoSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var doc sessionDoc
	err := r.coll.FindOne(ctx, bson.M{
		"_id":       id,
		"expiresAt": bson.M{"$gt": time.Now().UTC()},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &model.Session{
		ID:        doc.ID,
		UserID:    doc.UserID,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MongoSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (r *MongoSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.DeletedCount, nil
}

// compile-time interface check
var (
	_ UserRepository    = (*MongoUserRepo)(nil)
	_ TodoRepository    = (*MongoTodoRepo)(nil)
	_ SessionRepository = (*MongoSessionRepo)(nil)
)
