package main

import (
	"log"

	"collabboard-backend/internal/config"
	"collabboard-backend/internal/database"
	"collabboard-backend/internal/server"
	"collabboard-backend/internal/store"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결 (데이터 루트 내 SQLite 파일)
	dbm, err := database.Open(cfg.Data)
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer dbm.Close()

	// Ping 테스트
	if err := dbm.Ping(); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}
	log.Printf("✅ Database connected successfully (%s)", dbm.Path())

	// 인스턴스 시딩 (인스턴스 테이블이 비어 있을 때만)
	st := store.New(dbm)
	if err := st.Seed(cfg.Data.SeedFile); err != nil {
		log.Printf("⚠️ Instance seeding failed: %v", err)
	}

	// 서버 생성 및 설정
	srv := server.New(cfg, dbm, st)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
